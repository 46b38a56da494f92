package types

// Operation is an opaque unit of work (an "instruction"). The pipeline never
// looks inside Payload, it only counts, groups and sizes operations.
type Operation struct {
	Payload []byte `json:"payload"`
	// Signers lists public keys, beyond the wallet, whose signatures the
	// payload requires.
	Signers []string `json:"signers,omitempty"`
}

// Size returns the byte footprint of the operation.
func (o Operation) Size() int {
	return len(o.Payload)
}

// Instructions is an ordered list of operation groups. A flat list is a
// single group. Groups are never merged with each other.
type Instructions struct {
	groups [][]Operation
}

// Flat returns instructions that the builder may partition freely.
func Flat(ops ...Operation) Instructions {
	return Instructions{groups: [][]Operation{ops}}
}

// Grouped returns pre-grouped instructions. Each group becomes one or more
// drafts independently of the others.
func Grouped(groups ...[]Operation) Instructions {
	return Instructions{groups: groups}
}

func (i Instructions) Groups() [][]Operation {
	return i.groups
}

// Len returns the total number of operations across all groups.
func (i Instructions) Len() int {
	n := 0
	for _, g := range i.groups {
		n += len(g)
	}

	return n
}

// Keypair is an extra signer held by the caller, e.g. a freshly generated
// account that has to sign its own initialization.
type Keypair interface {
	PublicKey() string
	Sign(message []byte) ([]byte, error)
}
