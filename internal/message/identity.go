package message

// Identity is either a Pending provisional id or a Confirmed server id.
type Identity interface {
	Value() int64
	isIdentity()
}

// Pending is the client-side id given to an optimistically inserted message.
type Pending struct {
	LocalID int64
}

func (p Pending) Value() int64 { return p.LocalID }
func (Pending) isIdentity()    {}

// Confirmed is the id the server assigned on create.
type Confirmed struct {
	ServerID int64
}

func (c Confirmed) Value() int64 { return c.ServerID }
func (Confirmed) isIdentity()    {}
