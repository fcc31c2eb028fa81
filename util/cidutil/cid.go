package cidutil

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Entries are canonically encoded as deterministic JSON, so DagJSON is the
// codec recorded in the cid.
const codec = cid.DagJSON

// NewCidFromBytes returns the string form of the CIDv1 identifying data.
func NewCidFromBytes(data []byte) (string, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(codec, hash).String(), nil
}

// VerifyCid checks that id is the content address of data.
func VerifyCid(data []byte, id string) bool {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return false
	}
	return cid.NewCidV1(codec, hash).String() == id
}

// IsCid reports whether id parses as a valid cid.
func IsCid(id string) bool {
	_, err := cid.Decode(id)
	return err == nil
}
