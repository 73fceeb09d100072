package store

import (
	"fmt"
	"strconv"
	"strings"

	"parley/pkg/models"
)

// Key space layout. Ids are rendered as fixed-width decimal so byte order
// matches numeric order and a prefix delimits a whole table:
//
//	user:<id>                       -> username
//	uname:<username>                -> user id
//	group:<id>                      -> CBOR group row
//	msg:<id>                        -> CBOR message row
//	idx:<k>:<rcpt>:<sender>:<msg>   -> "" (delivery index, k is "g" or "u")
//
// The delivery index key orders by recipient kind, then recipient id, then
// sender id, then message id, which makes "all messages for recipient R"
// and "messages from S to R" contiguous ranges and gives group deletion a
// single prefix to sweep.
const (
	userPrefix  = "user:"
	unamePrefix = "uname:"
	groupPrefix = "group:"
	msgPrefix   = "msg:"
	idxPrefix   = "idx:"
	seqPrefix   = "seq:"

	idWidth = 20
)

// seqKey addresses the persisted id high-water mark for a table
// ("user", "group" or "msg").
func seqKey(table string) []byte { return []byte(seqPrefix + table) }

func fmtID(id uint64) string {
	return fmt.Sprintf("%0*d", idWidth, id)
}

func userKey(id uint64) []byte  { return []byte(userPrefix + fmtID(id)) }
func unameKey(name string) []byte { return []byte(unamePrefix + name) }
func groupKey(id uint64) []byte { return []byte(groupPrefix + fmtID(id)) }
func msgKey(id uint64) []byte   { return []byte(msgPrefix + fmtID(id)) }

func recipientTag(r models.Recipient) string {
	if r.IsGroup() {
		return "g"
	}
	return "u"
}

// idxKey builds the delivery index key for one message.
func idxKey(r models.Recipient, sender, msgID uint64) []byte {
	return []byte(idxPrefix + recipientTag(r) + ":" + fmtID(r.ID) + ":" + fmtID(sender) + ":" + fmtID(msgID))
}

// idxRecipientPrefix bounds the index range holding every message addressed
// to the recipient, across the full sender space.
func idxRecipientPrefix(r models.Recipient) []byte {
	return []byte(idxPrefix + recipientTag(r) + ":" + fmtID(r.ID) + ":")
}

// idxPairPrefix bounds the index range holding messages from sender to the
// recipient.
func idxPairPrefix(r models.Recipient, sender uint64) []byte {
	return []byte(idxPrefix + recipientTag(r) + ":" + fmtID(r.ID) + ":" + fmtID(sender) + ":")
}

// parseIDSuffix extracts the numeric id following prefix in key. The bool
// result is false for keys outside the prefix or with a malformed id.
func parseIDSuffix(key []byte, prefix string) (uint64, bool) {
	k := string(key)
	if !strings.HasPrefix(k, prefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(k[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// parseIdxKey splits a delivery index key into its components.
func parseIdxKey(key []byte) (r models.Recipient, sender, msgID uint64, ok bool) {
	k := string(key)
	if !strings.HasPrefix(k, idxPrefix) {
		return r, 0, 0, false
	}
	parts := strings.Split(k[len(idxPrefix):], ":")
	if len(parts) != 4 {
		return r, 0, 0, false
	}
	switch parts[0] {
	case "u":
		r.Kind = models.KindUser
	case "g":
		r.Kind = models.KindGroup
	default:
		return r, 0, 0, false
	}
	rid, err1 := strconv.ParseUint(parts[1], 10, 64)
	sid, err2 := strconv.ParseUint(parts[2], 10, 64)
	mid, err3 := strconv.ParseUint(parts[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return r, 0, 0, false
	}
	r.ID = rid
	return r, sid, mid, true
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, for use as an iterator UpperBound.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix was all 0xff; no upper bound
}
