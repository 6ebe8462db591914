package persist

import (
	"fmt"
	"io"

	"github.com/lumenvm/lumen/vm"
)

// ---------------------------------------------------------------------------
// Scalar-object codec
// ---------------------------------------------------------------------------
//
// Wire shape: one ASCII-mnemonic kind tag, then (except for ellipsis) the
// string-table shape of varint length + raw payload bytes. Numeric payloads
// are textual and re-parsed on load.

func loadObj(r Reader) (vm.Obj, error) {
	tag, err := readByte(r)
	if err != nil {
		return vm.Obj{}, err
	}
	kind := vm.ObjKind(tag)
	if kind == vm.KindEllipsis {
		return vm.Ellipsis, nil
	}
	switch kind {
	case vm.KindStr, vm.KindBytes, vm.KindInt, vm.KindFloat, vm.KindComplex:
	default:
		return vm.Obj{}, fmt.Errorf("%w: unknown literal tag 0x%02x", ErrCorrupt, tag)
	}

	n, err := ReadUint(r)
	if err != nil {
		return vm.Obj{}, err
	}
	payload, err := readBlob(r, n)
	if err != nil {
		return vm.Obj{}, err
	}
	o, err := vm.ParseObj(kind, payload)
	if err != nil {
		return vm.Obj{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return o, nil
}

func saveObj(w io.Writer, o vm.Obj) error {
	if err := writeByte(w, byte(o.Kind)); err != nil {
		return err
	}
	if o.Kind == vm.KindEllipsis {
		return nil
	}
	payload := o.Payload()
	if err := WriteUint(w, uint(len(payload))); err != nil {
		return err
	}
	return writeBytes(w, payload)
}
