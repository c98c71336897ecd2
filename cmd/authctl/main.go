// Command authctl administers authguard accounts directly in the database.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/joho/godotenv"

	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/repository/postgres"
	"github.com/and161185/authguard/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// accounts is the subset of service.Accounts the commands use.
type accounts interface {
	Register(ctx context.Context, username, password string) (uuid.UUID, error)
	ResetTwoFactor(ctx context.Context, username string) error
}

// opener connects to the store behind dsn.
type opener func(ctx context.Context, dsn string) (accounts, func(), error)

func openPostgres(ctx context.Context, dsn string) (accounts, func(), error) {
	db, err := postgres.New(ctx, dsn, 5*time.Second)
	if err != nil {
		return nil, nil, err
	}
	svc := service.NewAccounts(postgres.NewUserRepo(db), postgres.NewTwoFactorRepo(db), nil, nil)
	return svc, db.Close, nil
}

func usage(w io.Writer) {
	fmt.Fprint(w, `authctl
Usage:
  authctl [-dsn DSN] <cmd> [args]

Commands:
  version
  useradd    -u <username> -p <password | ->      ("-" reads the password from stdin)
  2fa-reset  -u <username>

The DSN defaults to $AUTHGUARD_DSN (a .env file in the working directory is honoured).
`)
}

// main dispatches subcommands against the configured database.
func main() {
	_ = godotenv.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, openPostgres)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, open opener) int {
	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	dsn := fs.String("dsn", os.Getenv("AUTHGUARD_DSN"), "PostgreSQL DSN")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return 2
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if cmd == "version" {
		fmt.Fprintf(stdout, "authctl %s (%s)\n", version, buildDate)
		return 0
	}

	sub := flag.NewFlagSet(cmd, flag.ContinueOnError)
	sub.SetOutput(stderr)
	user := sub.String("u", "", "username")
	var pass *string
	switch cmd {
	case "useradd":
		pass = sub.String("p", "", "password, or - for stdin")
	case "2fa-reset":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}
	if err := sub.Parse(rest); err != nil {
		return 2
	}
	if *user == "" {
		fmt.Fprintln(stderr, "need -u")
		return 1
	}
	if *dsn == "" {
		fmt.Fprintln(stderr, "need -dsn or AUTHGUARD_DSN")
		return 1
	}

	password := ""
	if pass != nil {
		p, err := readPassword(*pass, stdin)
		if err != nil {
			return fail(stderr, err)
		}
		password = p
	}

	svc, closeFn, err := open(ctx, *dsn)
	if err != nil {
		return fail(stderr, fmt.Errorf("connect: %w", err))
	}
	defer closeFn()

	switch cmd {
	case "useradd":
		id, err := svc.Register(ctx, *user, password)
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintln(stdout, id.String())
	case "2fa-reset":
		if err := svc.ResetTwoFactor(ctx, *user); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "two-factor authentication reset for %s\n", *user)
	}
	return 0
}

// readPassword returns p, or the first line of stdin when p is "-".
func readPassword(p string, stdin io.Reader) (string, error) {
	if p != "-" {
		if p == "" {
			return "", errors.New("need -p")
		}
		return p, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func fail(w io.Writer, err error) int {
	switch {
	case errors.Is(err, errs.ErrAlreadyExists):
		fmt.Fprintln(w, "error: username already taken")
	case errors.Is(err, errs.ErrNotFound):
		fmt.Fprintln(w, "error: no such user")
	case errors.Is(err, errs.Err2FANotEnabled):
		fmt.Fprintln(w, "error: two-factor authentication is not enabled")
	default:
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return 1
}
