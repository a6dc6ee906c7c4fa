package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/evm/decode"
	"github.com/pontem-network/e2m-core/pkg/move/module"
	"github.com/pontem-network/e2m-core/pkg/translator"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("e2m version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "translate":
		runTranslate(os.Args[2:])
	case "disasm", "disassemble":
		runDisasm(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("e2m - EVM bytecode to Move bytecode translator")
	fmt.Println("\nUsage:")
	fmt.Println("  e2m translate [flags]   Translate an EVM contract into a Move module")
	fmt.Println("  e2m disasm <file>       Disassemble hex-encoded EVM runtime code")
	fmt.Println("  e2m version             Show version")
	fmt.Println("  e2m help                Show this help")
	fmt.Println("\nFlags for translate:")
	fmt.Println("  -init-code <file>       File containing hex-encoded deployment (init) bytecode")
	fmt.Println("  -abi <file>             File containing the contract's ABI JSON")
	fmt.Println("  -address <hex>          20-byte EVM contract address (hex, optional 0x prefix)")
	fmt.Println("  -ctor-args <hex>        Hex-encoded constructor argument words (optional)")
	fmt.Println("  -module <name>          Move module name (default: contract)")
	fmt.Println("  -out <file>             Output path for the serialized Move module")
	fmt.Println("  -iface-out <file>       Output path for the textual .move interface")
	fmt.Println("  -native-input           Accepted; calldata is still read through the request buffer")
	fmt.Println("  -native-output          Encode return values as typed Move values at the boundary")
	fmt.Println("  -hidden-output          Drop a function's return value, keep only side effects")
	fmt.Println("  -u128-io                Narrow 256-bit ABI values to native 128-bit integers")
	fmt.Println("  -verbose                Enable debug logging")
}

func runTranslate(args []string) {
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	initCodeFile := fs.String("init-code", "", "file containing hex-encoded deployment bytecode")
	abiFile := fs.String("abi", "", "file containing the contract's ABI JSON")
	addressHex := fs.String("address", "", "20-byte EVM contract address")
	ctorArgsHex := fs.String("ctor-args", "", "hex-encoded constructor argument words")
	moduleName := fs.String("module", "contract", "Move module name")
	outFile := fs.String("out", "", "output path for the serialized Move module")
	ifaceOutFile := fs.String("iface-out", "", "output path for the textual .move interface")
	nativeInput := fs.Bool("native-input", false, "accepted; calldata is still read through the request buffer")
	nativeOutput := fs.Bool("native-output", false, "encode return values as typed Move values")
	hiddenOutput := fs.Bool("hidden-output", false, "drop a function's return value")
	u128IO := fs.Bool("u128-io", false, "narrow 256-bit ABI values to u128")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *initCodeFile == "" || *abiFile == "" {
		fmt.Fprintln(os.Stderr, "error: -init-code and -abi are required")
		fs.Usage()
		os.Exit(1)
	}

	initCodeHex, err := os.ReadFile(*initCodeFile)
	if err != nil {
		fatal("reading init code: %v", err)
	}
	abiJSON, err := os.ReadFile(*abiFile)
	if err != nil {
		fatal("reading ABI JSON: %v", err)
	}

	address, err := parseAddress(*addressHex)
	if err != nil {
		fatal("parsing address: %v", err)
	}

	var ctorArgs []byte
	if *ctorArgsHex != "" {
		ctorArgs, err = hex.DecodeString(trimHexPrefix(*ctorArgsHex))
		if err != nil {
			fatal("parsing constructor args: %v", err)
		}
	}

	cfg := translator.Config{
		ModuleName:   *moduleName,
		NativeInput:  *nativeInput,
		NativeOutput: *nativeOutput,
		HiddenOutput: *hiddenOutput,
		U128IO:       *u128IO,
	}

	res, err := translator.Translate(context.Background(), string(initCodeHex), abiJSON, address, ctorArgs, cfg)
	if err != nil {
		fatal("translation failed: %v", err)
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			fatal("creating output file: %v", err)
		}
		defer f.Close()
		if err := module.Serialize(res.Module, f); err != nil {
			fatal("writing module: %v", err)
		}
		fmt.Printf("wrote Move module to %s\n", *outFile)
	}

	if *ifaceOutFile != "" {
		if err := os.WriteFile(*ifaceOutFile, []byte(res.Interface), 0o644); err != nil {
			fatal("writing interface: %v", err)
		}
		fmt.Printf("wrote interface to %s\n", *ifaceOutFile)
	} else {
		fmt.Print(res.Interface)
	}
}

func runDisasm(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "error: no file specified")
		fmt.Fprintln(os.Stderr, "\nUsage: e2m disasm <file>")
		os.Exit(1)
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		fatal("reading file: %v", err)
	}
	instrs, err := decode.Decode(string(raw))
	if err != nil {
		fatal("decoding: %v", err)
	}
	fmt.Print(decode.Disassemble(instrs))
}

func parseAddress(s string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return out, err
	}
	if len(raw) > 20 {
		raw = raw[len(raw)-20:]
	}
	copy(out[20-len(raw):], raw)
	return out, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
