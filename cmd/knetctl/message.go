package main

import (
	"fmt"

	"github.com/danmuck/knet/internal/protocol/codec"
)

// Chat envelope layout: message type 1, payload fields sender(1) and text(2).
const (
	msgChat uint32 = 1

	fieldSender uint16 = 1
	fieldText   uint16 = 2
)

type chatMessage struct {
	Sender string
	Text   string
}

func encodeChat(id uint64, m chatMessage) codec.Envelope {
	payload := codec.EncodeFields([]codec.Field{
		codec.StringField(fieldSender, m.Sender),
		codec.StringField(fieldText, m.Text),
	})
	return codec.Envelope{
		Header: codec.EnvelopeHeader{
			MessageID:   id,
			MessageType: msgChat,
			PayloadLen:  uint64(len(payload)),
		},
		Payload: payload,
	}
}

func decodeChat(e codec.Envelope) (chatMessage, error) {
	if e.Header.MessageType != msgChat {
		return chatMessage{}, fmt.Errorf("unexpected message type %d", e.Header.MessageType)
	}
	fields, err := codec.DecodeFields(e.Payload)
	if err != nil {
		return chatMessage{}, err
	}
	var m chatMessage
	if m.Sender, err = stringField(fields, fieldSender); err != nil {
		return chatMessage{}, err
	}
	if m.Text, err = stringField(fields, fieldText); err != nil {
		return chatMessage{}, err
	}
	return m, nil
}

func stringField(fields []codec.Field, id uint16) (string, error) {
	f, ok := codec.GetField(fields, id)
	if !ok {
		return "", fmt.Errorf("missing field %d", id)
	}
	if err := codec.MustType(f, codec.TypeString); err != nil {
		return "", err
	}
	return string(f.Value), nil
}
