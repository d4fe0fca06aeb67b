package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"io"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/keys"
)

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printKeyUsage(errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "derive":
		return cmdKeyDerive(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	case "pub":
		return cmdKeyPub(args[1:], out, errOut)
	case "help", "-h", "--help":
		printKeyUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "walmarket-oracle key: local simulated-enclave keys")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  walmarket-oracle key init --name <name> [--scheme <s>] [--seed-hex <64hex>] [--force] [--key-dir <dir>]")
	fmt.Fprintln(w, "  walmarket-oracle key derive --from <name> --role <role> [--scheme <s>] [--force] [--key-dir <dir>]")
	fmt.Fprintln(w, "  walmarket-oracle key pub --name <name> [--role <role>] [--scheme <s>] [--key-dir <dir>]")
	fmt.Fprintln(w, "  walmarket-oracle key list [--key-dir <dir>]")
}

// keyFlags registers the flags shared by every key subcommand.
func keyFlags(fs *flag.FlagSet) (dir, scheme *string) {
	dir = fs.String("key-dir", "", "Key store directory (default ~/.walmarket/keys)")
	scheme = fs.String("scheme", string(keys.SchemeEd25519), "ecdsa-p256|ed25519|secp256k1|dilithium3")
	return dir, scheme
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var name string
	var seedHex string
	var force bool

	fs.StringVar(&name, "name", "", "Key name (directory under the key store)")
	fs.StringVar(&seedHex, "seed-hex", "", "Optional seed as 64 hex chars (for reproducible demos)")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")
	dir, schemeName := keyFlags(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	if err := keys.CheckKeyName(name); err != nil {
		fmt.Fprintf(errOut, "invalid --name: %v\n", err)
		return 2
	}
	scheme, err := keys.ParseScheme(*schemeName)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --scheme: %v\n", err)
		return 2
	}

	var seed []byte
	if seedHex != "" {
		var derr error
		seed, derr = keys.ParseSeedHex(seedHex)
		if derr != nil {
			fmt.Fprintf(errOut, "invalid --seed-hex: %v\n", derr)
			return 2
		}
	} else {
		seed, err = keys.GenerateSeed(rand.Reader)
		if err != nil {
			fmt.Fprintf(errOut, "rand: %v\n", err)
			return 1
		}
	}

	ks, err := keys.CreateKeyStore(*dir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	signer, rootPath, err := ks.InitRoot(name, scheme, seed, force)
	if err != nil {
		fmt.Fprintf(errOut, "write key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created root key: %s\n", keys.KeyID(signer.Scheme(), signer.PublicKey()))
	fmt.Fprintf(out, "Stored at: %s\n", rootPath)
	return 0
}

func cmdKeyDerive(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key derive", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var from string
	var role string
	var force bool

	fs.StringVar(&from, "from", "", "Root key name")
	fs.StringVar(&role, "role", "", "Role identifier (e.g. oracle, auditor)")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")
	dir, schemeName := keyFlags(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if from == "" {
		fmt.Fprintln(errOut, "missing --from")
		return 2
	}
	if role == "" {
		fmt.Fprintln(errOut, "missing --role")
		return 2
	}
	if err := keys.CheckKeyName(from); err != nil {
		fmt.Fprintf(errOut, "invalid --from: %v\n", err)
		return 2
	}
	if err := keys.CheckRole(role); err != nil {
		fmt.Fprintf(errOut, "invalid --role: %v\n", err)
		return 2
	}
	scheme, err := keys.ParseScheme(*schemeName)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --scheme: %v\n", err)
		return 2
	}
	ks, err := keys.CreateKeyStore(*dir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	signer, rolePath, err := ks.DeriveRole(from, role, scheme, force)
	if err != nil {
		fmt.Fprintf(errOut, "derive role key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created role key: %s\n", keys.KeyID(signer.Scheme(), signer.PublicKey()))
	fmt.Fprintf(out, "Stored at: %s\n", rolePath)
	return 0
}

// cmdKeyPub prints the 0x public key for verify --pubkey.
func cmdKeyPub(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key pub", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var name string
	var role string

	fs.StringVar(&name, "name", "", "Key name")
	fs.StringVar(&role, "role", "", "Optional role (if set, prints the derived role key)")
	dir, schemeName := keyFlags(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	if err := keys.CheckKeyName(name); err != nil {
		fmt.Fprintf(errOut, "invalid --name: %v\n", err)
		return 2
	}
	if role != "" {
		if err := keys.CheckRole(role); err != nil {
			fmt.Fprintf(errOut, "invalid --role: %v\n", err)
			return 2
		}
	}
	scheme, err := keys.ParseScheme(*schemeName)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --scheme: %v\n", err)
		return 2
	}
	ks, err := keys.CreateKeyStore(*dir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	signer, err := ks.Open(name, role, scheme)
	if err != nil {
		fmt.Fprintf(errOut, "open key: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, canon.FormatHex(signer.PublicKey()))
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("key-dir", "", "Key store directory (default ~/.walmarket/keys)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, err := keys.CreateKeyStore(*dir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	entries, err := ks.List()
	if err != nil {
		fmt.Fprintf(errOut, "list keys: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\n", e.Name)
		for _, r := range e.Roles {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	return 0
}
