// Package wire defines the tagged-union protocol shared by the server and
// its clients. Every network frame is the CBOR encoding of one envelope
// {kind, payload}; the payload is the CBOR encoding of the variant struct
// for that kind. Client and server frames are distinct sum types so a
// handler can switch exhaustively over the concrete variants.
package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"parley/pkg/models"
)

// Kind tags one frame variant on the wire.
type Kind string

// Client to server.
const (
	KindRequestUsername Kind = "request_username"
	KindGetMessages     Kind = "get_messages"
	KindSendMessage     Kind = "send_message"
	KindEditMessage     Kind = "edit_message"
	KindEditTags        Kind = "edit_tags"
	KindDeleteMessage   Kind = "delete_message"
	KindCreateGroup     Kind = "create_group"
	KindEditGroup       Kind = "edit_group"
	KindDeleteGroup     Kind = "delete_group"
)

// Server to client.
const (
	KindError                Kind = "error"
	KindWelcome              Kind = "welcome"
	KindUserAdded            Kind = "user_added"
	KindUserOnline           Kind = "user_online"
	KindUserOffline          Kind = "user_offline"
	KindMessagesForRecipient Kind = "messages_for_recipient"
	KindMessageSent          Kind = "message_sent"
	KindMessageEdited        Kind = "message_edited"
	KindMessageTagsEdited    Kind = "message_tags_edited"
	KindMessageDeleted       Kind = "message_deleted"
	KindGroupAdded           Kind = "group_added"
	KindGroupEdited          Kind = "group_edited"
	KindGroupDeleted         Kind = "group_deleted"
)

// ErrUnknownKind is returned when a frame carries a kind tag this build
// does not recognize.
var ErrUnknownKind = errors.New("unknown frame kind")

type envelope struct {
	Kind    Kind            `cbor:"kind"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}

// ClientFrame is a request from a client.
type ClientFrame interface{ clientKind() Kind }

// ServerFrame is an event pushed to a client.
type ServerFrame interface{ serverKind() Kind }

// Client request variants.

type RequestUsername struct {
	Username string `cbor:"username"`
}

type GetMessages struct {
	Recipient models.Recipient `cbor:"recipient"`
}

type SendMessage struct {
	Body      string           `cbor:"body"`
	Recipient models.Recipient `cbor:"recipient"`
}

type EditMessage struct {
	ID      uint64 `cbor:"id"`
	NewBody string `cbor:"new_body"`
}

type EditTags struct {
	ID      uint64   `cbor:"id"`
	NewTags []string `cbor:"new_tags"`
}

type DeleteMessage struct {
	ID uint64 `cbor:"id"`
}

type CreateGroup struct {
	Name    string   `cbor:"name"`
	Members []uint64 `cbor:"members"`
}

type EditGroup struct {
	ID         uint64   `cbor:"id"`
	NewName    string   `cbor:"new_name"`
	NewMembers []uint64 `cbor:"new_members"`
}

type DeleteGroup struct {
	ID uint64 `cbor:"id"`
}

func (RequestUsername) clientKind() Kind { return KindRequestUsername }
func (GetMessages) clientKind() Kind     { return KindGetMessages }
func (SendMessage) clientKind() Kind     { return KindSendMessage }
func (EditMessage) clientKind() Kind     { return KindEditMessage }
func (EditTags) clientKind() Kind        { return KindEditTags }
func (DeleteMessage) clientKind() Kind   { return KindDeleteMessage }
func (CreateGroup) clientKind() Kind     { return KindCreateGroup }
func (EditGroup) clientKind() Kind       { return KindEditGroup }
func (DeleteGroup) clientKind() Kind     { return KindDeleteGroup }

// Server event variants.

type Error struct {
	Message string `cbor:"message"`
}

// UserEntry is one row of the Welcome user list.
type UserEntry struct {
	ID       uint64 `cbor:"id"`
	Username string `cbor:"username"`
	Online   bool   `cbor:"online"`
}

// GroupEntry is a group with member names resolved.
type GroupEntry struct {
	ID      uint64      `cbor:"id"`
	Name    string      `cbor:"name"`
	Members []UserEntry `cbor:"members"`
}

type Welcome struct {
	UserID uint64       `cbor:"user_id"`
	Users  []UserEntry  `cbor:"users"`
	Groups []GroupEntry `cbor:"groups"`
}

type UserAdded struct {
	ID       uint64 `cbor:"id"`
	Username string `cbor:"username"`
}

type UserOnline struct {
	ID uint64 `cbor:"id"`
}

type UserOffline struct {
	ID uint64 `cbor:"id"`
}

type MessagesForRecipient struct {
	Recipient models.Recipient `cbor:"recipient"`
	Messages  []models.Message `cbor:"messages"`
}

type MessageSent struct {
	Message models.Message `cbor:"message"`
}

type MessageEdited struct {
	Message models.Message `cbor:"message"`
}

type MessageTagsEdited struct {
	Message models.Message `cbor:"message"`
}

type MessageDeleted struct {
	Message models.Message `cbor:"message"`
}

type GroupAdded struct {
	Group GroupEntry `cbor:"group"`
}

type GroupEdited struct {
	Group GroupEntry `cbor:"group"`
}

type GroupDeleted struct {
	ID uint64 `cbor:"id"`
}

func (Error) serverKind() Kind                { return KindError }
func (Welcome) serverKind() Kind              { return KindWelcome }
func (UserAdded) serverKind() Kind            { return KindUserAdded }
func (UserOnline) serverKind() Kind           { return KindUserOnline }
func (UserOffline) serverKind() Kind          { return KindUserOffline }
func (MessagesForRecipient) serverKind() Kind { return KindMessagesForRecipient }
func (MessageSent) serverKind() Kind          { return KindMessageSent }
func (MessageEdited) serverKind() Kind        { return KindMessageEdited }
func (MessageTagsEdited) serverKind() Kind    { return KindMessageTagsEdited }
func (MessageDeleted) serverKind() Kind       { return KindMessageDeleted }
func (GroupAdded) serverKind() Kind           { return KindGroupAdded }
func (GroupEdited) serverKind() Kind          { return KindGroupEdited }
func (GroupDeleted) serverKind() Kind         { return KindGroupDeleted }

func encode(kind Kind, v any) ([]byte, error) {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(envelope{Kind: kind, Payload: payload})
}

// EncodeClient encodes one client request frame.
func EncodeClient(f ClientFrame) ([]byte, error) {
	return encode(f.clientKind(), f)
}

// EncodeServer encodes one server event frame.
func EncodeServer(f ServerFrame) ([]byte, error) {
	return encode(f.serverKind(), f)
}

// decodeAs unmarshals a payload into the variant type T and returns it as
// a value, so consumers can type-switch on the concrete variants.
func decodeAs[T any](payload cbor.RawMessage) (T, error) {
	var v T
	if len(payload) > 0 {
		if err := cbor.Unmarshal(payload, &v); err != nil {
			return v, err
		}
	}
	return v, nil
}

func asClient[T ClientFrame](payload cbor.RawMessage) (ClientFrame, error) {
	v, err := decodeAs[T](payload)
	return v, err
}

func asServer[T ServerFrame](payload cbor.RawMessage) (ServerFrame, error) {
	v, err := decodeAs[T](payload)
	return v, err
}

// DecodeClient decodes one client request frame.
func DecodeClient(data []byte) (ClientFrame, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindRequestUsername:
		return asClient[RequestUsername](env.Payload)
	case KindGetMessages:
		return asClient[GetMessages](env.Payload)
	case KindSendMessage:
		return asClient[SendMessage](env.Payload)
	case KindEditMessage:
		return asClient[EditMessage](env.Payload)
	case KindEditTags:
		return asClient[EditTags](env.Payload)
	case KindDeleteMessage:
		return asClient[DeleteMessage](env.Payload)
	case KindCreateGroup:
		return asClient[CreateGroup](env.Payload)
	case KindEditGroup:
		return asClient[EditGroup](env.Payload)
	case KindDeleteGroup:
		return asClient[DeleteGroup](env.Payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
}

// DecodeServer decodes one server event frame. Used by clients and tests.
func DecodeServer(data []byte) (ServerFrame, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindError:
		return asServer[Error](env.Payload)
	case KindWelcome:
		return asServer[Welcome](env.Payload)
	case KindUserAdded:
		return asServer[UserAdded](env.Payload)
	case KindUserOnline:
		return asServer[UserOnline](env.Payload)
	case KindUserOffline:
		return asServer[UserOffline](env.Payload)
	case KindMessagesForRecipient:
		return asServer[MessagesForRecipient](env.Payload)
	case KindMessageSent:
		return asServer[MessageSent](env.Payload)
	case KindMessageEdited:
		return asServer[MessageEdited](env.Payload)
	case KindMessageTagsEdited:
		return asServer[MessageTagsEdited](env.Payload)
	case KindMessageDeleted:
		return asServer[MessageDeleted](env.Payload)
	case KindGroupAdded:
		return asServer[GroupAdded](env.Payload)
	case KindGroupEdited:
		return asServer[GroupEdited](env.Payload)
	case KindGroupDeleted:
		return asServer[GroupDeleted](env.Payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
}
