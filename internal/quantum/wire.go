package quantum

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Marshal encodes an Envelope in the on-wire format:
//
//	[u8 scheme_version][u32 LE len_ct_kem][ct_kem][nonce(12)]
//	[u32 LE len_ct_aes][ct_aes+tag][proof(32)][u128 encrypted_at_unix_nanos]
func (e *Envelope) Marshal() []byte {
	buf := make([]byte, 0, 1+4+len(e.MLKemCiphertext)+aesNonceSize+4+len(e.AESCiphertext)+hmacSize+16)

	buf = append(buf, e.SchemeVersion)

	buf = appendU32(buf, uint32(len(e.MLKemCiphertext)))
	buf = append(buf, e.MLKemCiphertext...)

	buf = append(buf, e.AESNonce...)

	buf = appendU32(buf, uint32(len(e.AESCiphertext)))
	buf = append(buf, e.AESCiphertext...)

	buf = append(buf, e.IntegrityProof...)

	var tsBuf [16]byte
	nanos := e.EncryptedAt.UnixNano()
	binary.LittleEndian.PutUint64(tsBuf[:8], uint64(nanos))
	buf = append(buf, tsBuf[:]...)

	return buf
}

// Unmarshal parses the on-wire envelope format produced by Marshal.
func Unmarshal(data []byte) (*Envelope, error) {
	if len(data) < 1+4 {
		return nil, fmt.Errorf("quantum: envelope too short")
	}

	env := &Envelope{SchemeVersion: data[0]}
	off := 1

	ctKemLen, off2, err := readU32(data, off)
	if err != nil {
		return nil, err
	}
	off = off2
	if off+int(ctKemLen) > len(data) {
		return nil, fmt.Errorf("quantum: truncated ml_kem_ciphertext")
	}
	env.MLKemCiphertext = append([]byte(nil), data[off:off+int(ctKemLen)]...)
	off += int(ctKemLen)

	if off+aesNonceSize > len(data) {
		return nil, fmt.Errorf("quantum: truncated nonce")
	}
	env.AESNonce = append([]byte(nil), data[off:off+aesNonceSize]...)
	off += aesNonceSize

	ctAesLen, off3, err := readU32(data, off)
	if err != nil {
		return nil, err
	}
	off = off3
	if off+int(ctAesLen) > len(data) {
		return nil, fmt.Errorf("quantum: truncated aes_ciphertext")
	}
	env.AESCiphertext = append([]byte(nil), data[off:off+int(ctAesLen)]...)
	off += int(ctAesLen)

	if off+hmacSize > len(data) {
		return nil, fmt.Errorf("quantum: truncated integrity_proof")
	}
	env.IntegrityProof = append([]byte(nil), data[off:off+hmacSize]...)
	off += hmacSize

	if off+16 > len(data) {
		return nil, fmt.Errorf("quantum: truncated timestamp")
	}
	nanos := binary.LittleEndian.Uint64(data[off : off+8])
	env.EncryptedAt = time.Unix(0, int64(nanos)).UTC()

	return env, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readU32(data []byte, off int) (uint32, int, error) {
	if off+4 > len(data) {
		return 0, off, fmt.Errorf("quantum: truncated length prefix")
	}
	return binary.LittleEndian.Uint32(data[off : off+4]), off + 4, nil
}
