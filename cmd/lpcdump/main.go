// lpcdump prints the structure of a .lpc container: header, code-unit tree
// with constant pools, or the relocation table of a native container. The
// native body is inspected structurally; nothing is allocated, relocated or
// executed.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/lumenvm/lumen/persist"
	"github.com/lumenvm/lumen/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	cache := flag.Bool("cache", false, "Container was built with inline-cache slots")
	unicode := flag.Bool("unicode", false, "Container was built with unicode strings")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: lpcdump [-cache] [-unicode] [-v] file.lpc")
		os.Exit(2)
	}

	feats := persist.Features{InlineCaches: *cache, UnicodeStrings: *unicode}
	if err := dump(flag.Arg(0), feats); err != nil {
		fmt.Fprintf(os.Stderr, "lpcdump: %v\n", err)
		os.Exit(1)
	}
}

func dump(name string, feats persist.Features) error {
	fr, err := persist.OpenFile(name)
	if err != nil {
		return err
	}
	defer fr.Close()

	var header [4]byte
	if err := persist.ReadFull(fr, header[:]); err != nil {
		return err
	}
	fmt.Printf("%s: magic=%q version=%d flags=0x%02x", name, header[0], header[1], header[2])

	switch {
	case header[0] != persist.Magic || header[1] != persist.Version:
		fmt.Println()
		return fmt.Errorf("not a version-%d container", persist.Version)

	case header[2] == persist.NativeFlags:
		fmt.Printf(" isa=0x%02x (native)\n", header[3])
		return dumpNative(fr)

	default:
		fmt.Printf(" smallint=%d-bit (bytecode)\n", header[3])
		if header[2] != feats.FlagsByte() {
			commonlog.NewWarningMessage(0, "container flags differ from requested flags; operand sizes may misparse")
		}
		tbl := vm.NewSymbolTable()
		rc, err := persist.LoadUnit(fr, tbl, feats.InlineCaches)
		if err != nil {
			return err
		}
		dumpUnit(rc, tbl, 0)
		return nil
	}
}

func dumpUnit(rc *vm.RawCode, tbl *vm.SymbolTable, depth int) {
	indent := strings.Repeat("  ", depth)
	prelude, _, nameOff, err := vm.ExtractPrelude(rc.Bytecode)
	if err != nil {
		fmt.Printf("%s<bad prelude: %v>\n", indent, err)
		return
	}
	unitName := tbl.Name(vm.Sym(binary.LittleEndian.Uint16(rc.Bytecode[nameOff:])))
	srcFile := tbl.Name(vm.Sym(binary.LittleEndian.Uint16(rc.Bytecode[nameOff+2:])))

	fmt.Printf("%sunit %q (%s): %d bytes, state=%d exc=%d args=%d+%d scope=0x%02x\n",
		indent, unitName, srcFile, len(rc.Bytecode),
		prelude.NState, prelude.NExcStack, prelude.NPosArgs, prelude.NKwonlyArgs, rc.ScopeFlags)

	for _, s := range rc.ArgNames {
		fmt.Printf("%s  arg %q\n", indent, tbl.Name(s))
	}
	for _, o := range rc.Objs {
		fmt.Printf("%s  const %s\n", indent, o)
	}
	for _, c := range rc.Children {
		dumpUnit(c, tbl, depth+1)
	}
}

func dumpNative(r persist.Reader) error {
	codeLen, err := persist.ReadUint(r)
	if err != nil {
		return err
	}
	dataLen, err := persist.ReadUint(r)
	if err != nil {
		return err
	}
	nRelocs, err := persist.ReadUint(r)
	if err != nil {
		return err
	}
	startIndex, err := persist.ReadUint(r)
	if err != nil {
		return err
	}
	fmt.Printf("  code=%d data=%d relocs=%d entry=+%#x\n", codeLen, dataLen, nRelocs, startIndex)

	// Skip the payloads to reach the relocation table.
	skip := make([]byte, 4096)
	for remaining := codeLen + dataLen; remaining > 0; {
		n := min(remaining, uint(len(skip)))
		if err := persist.ReadFull(r, skip[:n]); err != nil {
			return err
		}
		remaining -= n
	}

	for i := uint(0); i < nRelocs; i++ {
		target, err := persist.ReadUint(r)
		if err != nil {
			return err
		}
		packed, err := persist.ReadUint(r)
		if err != nil {
			return err
		}
		fmt.Printf("  reloc %3d: target=%-3d packed=%#x\n", i, target, packed)
	}
	return nil
}
