package domain

import "time"

type RoomID string
type PeerID string
type ConnectionID string
type TransportID string
type ProducerID string
type ConsumerID string

// MediaKind is the kind of a produced stream. Audio and video map directly
// onto engine track kinds; screen is carried as video with a distinct label.
type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

// Valid reports whether the kind is one the session model accepts.
func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo || k == KindScreen
}

// RtpCapabilities, RtpParameters and DtlsParameters are engine-owned blobs.
// The session model never interprets them, it only relays them between the
// client and the media engine.
type RtpCapabilities map[string]interface{}
type RtpParameters map[string]interface{}
type DtlsParameters map[string]interface{}

// TransportParams is everything a client needs to complete the transport
// handshake on its side.
type TransportParams struct {
	ID            TransportID `msgpack:"id" json:"id"`
	IceParameters interface{} `msgpack:"iceParameters" json:"iceParameters"`
	IceCandidates interface{} `msgpack:"iceCandidates" json:"iceCandidates"`
	DtlsParams    interface{} `msgpack:"dtlsParameters" json:"dtlsParameters"`
}

// ConsumerParams is returned from a consume call so the client can
// instantiate its local consumer.
type ConsumerParams struct {
	ProducerID     ProducerID    `msgpack:"producerId" json:"producerId"`
	ID             ConsumerID    `msgpack:"id" json:"id"`
	Kind           MediaKind     `msgpack:"kind" json:"kind"`
	RtpParameters  RtpParameters `msgpack:"rtpParameters" json:"rtpParameters"`
	Type           string        `msgpack:"type" json:"type"`
	ProducerPaused bool          `msgpack:"producerPaused" json:"producerPaused"`
}

// PeerInfo is the serializable membership entry inside a room snapshot.
type PeerInfo struct {
	ID   PeerID `msgpack:"id" json:"id"`
	Name string `msgpack:"name" json:"name"`
}

// RoomSnapshot is the client bootstrap view of a room.
type RoomSnapshot struct {
	ID    RoomID     `msgpack:"id" json:"id"`
	Peers []PeerInfo `msgpack:"peers" json:"peers"`
}

// ProducerInfo identifies one remote producer in list and push payloads.
type ProducerInfo struct {
	ProducerID ProducerID `msgpack:"producerId" json:"producerId"`
}

// RoomStats is the monitoring view of a live room.
type RoomStats struct {
	ID        RoomID    `json:"id"`
	PeerCount int       `json:"peer_count"`
	Producers int       `json:"producers"`
	Consumers int       `json:"consumers"`
	CreatedAt time.Time `json:"created_at"`
}
