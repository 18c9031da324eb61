// credtool manages the encrypted credential container used by the
// blacktide daemon. Passwords are read from stdin, never from argv.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/blacktide/blacktide/internal/credstore"
)

func main() {
	var file string
	var keyFile string
	flag.StringVar(&file, "file", "credentials.enc", "credential container path")
	flag.StringVar(&keyFile, "key_file", "credentials.key", "key file path")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [source]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  save <source>    store a credential (username and password read from stdin)\n")
		fmt.Fprintf(os.Stderr, "  get <source>     show a credential with the password masked\n")
		fmt.Fprintf(os.Stderr, "  delete <source>  remove a credential\n")
		fmt.Fprintf(os.Stderr, "  list             list configured sources\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	store, err := credstore.New(file, keyFile)
	if err != nil {
		fatal("open store: %v", err)
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "save":
		source := requireSource(cmd)
		in := bufio.NewReader(os.Stdin)
		username := prompt(in, "username: ")
		password := prompt(in, "password: ")
		if username == "" || password == "" {
			fatal("username and password must not be empty")
		}
		if err := store.Save(source, username, password, nil); err != nil {
			fatal("save: %v", err)
		}
		fmt.Println("saved", source)

	case "get":
		source := requireSource(cmd)
		cred, err := store.Get(source)
		if err != nil {
			fatal("get: %v", err)
		}
		fmt.Printf("source:   %s\n", cred.Source)
		fmt.Printf("username: %s\n", cred.Username)
		fmt.Printf("password: %s\n", mask(cred.Password))

	case "delete":
		source := requireSource(cmd)
		if err := store.Delete(source); err != nil {
			fatal("delete: %v", err)
		}
		fmt.Println("deleted", source)

	case "list":
		sources, err := store.Sources()
		if err != nil {
			fatal("list: %v", err)
		}
		if len(sources) == 0 {
			fmt.Println("no credentials configured")
			return
		}
		for _, s := range sources {
			fmt.Println(s)
		}

	default:
		fatal("unknown command: %s", cmd)
	}
}

func requireSource(cmd string) string {
	if flag.NArg() < 2 {
		fatal("%s requires a source name", cmd)
	}
	return flag.Arg(1)
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Fprint(os.Stderr, label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func mask(s string) string {
	if len(s) <= 2 {
		return "****"
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
