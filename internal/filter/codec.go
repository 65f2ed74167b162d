package filter

// Codec transforms chunk data for one filter id. Apply runs on the write path
// and Remove reverses it on the read path; both receive the descriptor's
// client parameters.
type Codec interface {
	ID() ID
	Name() string
	Apply(params []uint32, data []byte) ([]byte, error)
	Remove(params []uint32, data []byte) ([]byte, error)
}

// LocalSetter is implemented by codecs whose parameters depend on the
// dataset's datatype. SetLocal returns the parameters to store in the chain.
type LocalSetter interface {
	SetLocal(elemSize uint32, params []uint32) ([]uint32, error)
}

// Checksummer is implemented by error-detecting codecs so that the read path
// can strip the checksum without verifying it when detection is disabled.
type Checksummer interface {
	Strip(data []byte) ([]byte, error)
}

// Builtins returns the codecs every registry starts with.
func Builtins() []Codec {
	return []Codec{
		DeflateCodec{},
		ShuffleCodec{},
		Fletcher32Codec{},
		LZFCodec{},
	}
}
