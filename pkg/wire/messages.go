package wire

import "roomcast/internal/core/domain"

// Request payloads, client to server.

type JoinRequest struct {
	RoomID domain.RoomID `msgpack:"roomId"`
	Name   string        `msgpack:"name"`
}

type GetRoomRequest struct {
	RoomID domain.RoomID `msgpack:"roomId"`
}

type CreateTransportRequest struct {
	ForceTCP        bool                   `msgpack:"forceTcp"`
	RtpCapabilities domain.RtpCapabilities `msgpack:"rtpCapabilities,omitempty"`
}

type ConnectTransportRequest struct {
	TransportID    domain.TransportID    `msgpack:"transportId"`
	DtlsParameters domain.DtlsParameters `msgpack:"dtlsParameters"`
}

type ProduceRequest struct {
	ProducerTransportID domain.TransportID   `msgpack:"producerTransportId"`
	Kind                domain.MediaKind     `msgpack:"kind"`
	RtpParameters       domain.RtpParameters `msgpack:"rtpParameters"`
}

type ConsumeRequest struct {
	ConsumerTransportID domain.TransportID     `msgpack:"consumerTransportId"`
	ProducerID          domain.ProducerID      `msgpack:"producerId"`
	RtpCapabilities     domain.RtpCapabilities `msgpack:"rtpCapabilities"`
}

type ProducerClosedRequest struct {
	ProducerID domain.ProducerID `msgpack:"producerId"`
}

// Response and push payloads, server to client.

type RoomCreated struct {
	RoomID domain.RoomID `msgpack:"roomId"`
}

type ProducerCreated struct {
	ProducerID domain.ProducerID `msgpack:"producerId"`
}

type ProducerList struct {
	Items []domain.ProducerInfo `msgpack:"items"`
}

type ConsumerClosed struct {
	ConsumerID domain.ConsumerID `msgpack:"consumerId"`
}
