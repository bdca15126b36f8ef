// Package wasmencode is a minimal WebAssembly 1.0 binary-format encoder:
// LEB128 varints, section framing and a small instruction assembler, enough
// for the code generator to emit a valid `main`-exporting module. It plays
// the role the teacher's internal/wasm/binary package plays for the real
// wazero engine, scoped down to what this backend's pipelines need to
// emit rather than a full general-purpose Wasm encoder/decoder.
package wasmencode

// EncodeUint32 LEB128-encodes an unsigned 32-bit integer.
func EncodeUint32(v uint32) []byte { return encodeUvarint(uint64(v)) }

// EncodeUint64 LEB128-encodes an unsigned 64-bit integer.
func EncodeUint64(v uint64) []byte { return encodeUvarint(v) }

func encodeUvarint(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

// EncodeInt32 LEB128-encodes a signed 32-bit integer (sign-extending
// varint, per the Wasm spec's `si32` production).
func EncodeInt32(v int32) []byte { return encodeVarint(int64(v), 32) }

// EncodeInt64 LEB128-encodes a signed 64-bit integer.
func EncodeInt64(v int64) []byte { return encodeVarint(v, 64) }

func encodeVarint(v int64, bits int) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
