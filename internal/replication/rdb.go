package replication

import "encoding/hex"

// emptyRDBHex is a hard-coded minimal RDB v11 database: the "REDIS0011"
// magic/version header, a redis-ver/redis-bits metadata pair, the EOF
// opcode and an 8-byte CRC64 checksum. Persistence itself is out of scope
// (spec.md §4.5.1); this is sent verbatim as the PSYNC snapshot.
const emptyRDBHex = "524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040ffd7d206458ca6f2f1"

// EmptyRDB returns the decoded bytes of the hard-coded empty RDB v11
// database sent after FULLRESYNC.
func EmptyRDB() []byte {
	b, err := hex.DecodeString(emptyRDBHex)
	if err != nil {
		panic("replication: invalid emptyRDBHex constant: " + err.Error())
	}
	return b
}
