package session

import "time"

// Session is an accounting session keyed by Acct-Unique-Session-Id.
type Session struct {
	ID               string    `json:"id" bson:"id"`
	AcctSessionID    string    `json:"acctSessionId,omitempty" bson:"acctSessionId,omitempty"`
	UserName         string    `json:"userName" bson:"userName"`
	NASIPAddress     string    `json:"nasIpAddress,omitempty" bson:"nasIpAddress,omitempty"`
	NASIdentifier    string    `json:"nasIdentifier,omitempty" bson:"nasIdentifier,omitempty"`
	NASPort          string    `json:"nasPort,omitempty" bson:"nasPort,omitempty"`
	FramedIPAddress  string    `json:"framedIpAddress,omitempty" bson:"framedIpAddress,omitempty"`
	CallingStationID string    `json:"callingStationId,omitempty" bson:"callingStationId,omitempty"`
	Open             bool      `json:"open" bson:"open"`
	StartedAt        time.Time `json:"startedAt" bson:"startedAt"`
	UpdatedAt        time.Time `json:"updatedAt" bson:"updatedAt"`
	StoppedAt        time.Time `json:"stoppedAt,omitempty" bson:"stoppedAt,omitempty"`
	SessionTime      uint32    `json:"sessionTime" bson:"sessionTime"`
	InputOctets      uint64    `json:"inputOctets" bson:"inputOctets"`
	OutputOctets     uint64    `json:"outputOctets" bson:"outputOctets"`
	TerminateCause   string    `json:"terminateCause,omitempty" bson:"terminateCause,omitempty"`
}

// Close marks the session stopped at t.
func (s *Session) Close(t time.Time) {
	s.Open = false
	s.StoppedAt = t
	s.UpdatedAt = t
}
