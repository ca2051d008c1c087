// Command authctl manages accounts in the self-hosted SQLite directory.
//
//	authctl hash-password [-pepper-file path]
//	authctl create-user -email a@b.c -name "A B" [-admin -teacher ...]
//	authctl set-roles -id <user> [-admin -teacher ...]
//	authctl disable -id <user> | authctl enable -id <user>
//	authctl check-hash < hash.txt
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

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/internal/auth/store/drivers/sqlite"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/edportal/sessionauth/pkg/idx"
	"github.com/edportal/sessionauth/pkg/rbac"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: authctl <hash-password|create-user|set-roles|enable|disable|check-hash> [flags]")
}

// common flags shared by every subcommand
type common struct {
	dbFile     string
	pepperFile string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.dbFile, "db", envOr("AUTH_DATABASE_FILE", "auth.db"), "SQLite directory file")
	fs.StringVar(&c.pepperFile, "pepper-file", envOr("AUTH_PEPPER_FILE", "pepper"), "password pepper file")
}

func (c *common) open() (*sqlite.Directory, error) {
	if err := cryptox.LoadPepperFile(c.pepperFile); err != nil {
		return nil, fmt.Errorf("load pepper: %w", err)
	}
	dir, err := sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", c.dbFile))
	if err != nil {
		return nil, err
	}
	if err := dir.ApplyMigrations(); err != nil {
		_ = dir.Close()
		return nil, err
	}
	return dir, nil
}

func roleFlags(fs *flag.FlagSet) *rbac.Flags {
	f := &rbac.Flags{}
	fs.BoolVar(&f.Administrator, "admin", false, "system administrator")
	fs.BoolVar(&f.InstitutionManager, "manager", false, "institution manager")
	fs.BoolVar(&f.Coordinator, "coordinator", false, "coordinator")
	fs.BoolVar(&f.Guardian, "guardian", false, "guardian")
	fs.BoolVar(&f.Teacher, "teacher", false, "teacher")
	fs.BoolVar(&f.Student, "student", false, "student")
	return f
}

func run(ctx context.Context, cmd string, args []string, in io.Reader, out io.Writer) error {
	var c common
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	c.register(fs)

	switch cmd {
	case "hash-password":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := cryptox.LoadPepperFile(c.pepperFile); err != nil {
			return err
		}
		password, err := readPassword(in)
		if err != nil {
			return err
		}
		hash, err := cryptox.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, hash)
		return nil

	case "create-user":
		email := fs.String("email", "", "login email (required)")
		name := fs.String("name", "", "display name")
		institution := fs.String("institution", "", "institution ID")
		flags := roleFlags(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		if strings.TrimSpace(*email) == "" {
			return errors.New("-email is required")
		}

		// open loads the pepper the hash must be made with.
		dir, err := c.open()
		if err != nil {
			return err
		}
		defer dir.Close()

		password, generated := "", false
		if p, err := readPassword(in); err == nil {
			password = p
		} else {
			if password, err = cryptox.GeneratePassword(); err != nil {
				return err
			}
			generated = true
		}
		hash, err := cryptox.HashPassword(password)
		if err != nil {
			return err
		}

		ident := domain.Identity{
			ID:            idx.New().String(),
			Email:         strings.TrimSpace(*email),
			Name:          *name,
			InstitutionID: *institution,
			PasswordHash:  hash,
			Flags:         *flags,
			Enabled:       true,
		}
		if err := dir.CreateIdentity(ctx, ident); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return fmt.Errorf("an account with email %s already exists", ident.Email)
			}
			return err
		}

		rp := rbac.Resolve(ident.Flags)
		fmt.Fprintf(out, "created %s (%s) role=%s\n", ident.ID, ident.Email, rp.Role)
		if generated {
			fmt.Fprintf(out, "generated password: %s\n", password)
		}
		return nil

	case "set-roles":
		id := fs.String("id", "", "user ID (required)")
		flags := roleFlags(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *id == "" {
			return errors.New("-id is required")
		}
		dir, err := c.open()
		if err != nil {
			return err
		}
		defer dir.Close()

		if err := dir.SetFlags(ctx, *id, *flags); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s role=%s\n", *id, rbac.Resolve(*flags).Role)
		return nil

	case "enable", "disable":
		id := fs.String("id", "", "user ID (required)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *id == "" {
			return errors.New("-id is required")
		}
		dir, err := c.open()
		if err != nil {
			return err
		}
		defer dir.Close()

		if err := dir.SetEnabled(ctx, *id, cmd == "enable"); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %sd\n", *id, cmd)
		return nil

	case "check-hash":
		if err := fs.Parse(args); err != nil {
			return err
		}
		hash, err := readPassword(in)
		if err != nil {
			return err
		}
		if cryptox.NeedsRehash(hash) {
			fmt.Fprintln(out, "legacy: rehash on next login")
		} else {
			fmt.Fprintln(out, "current")
		}
		return nil

	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// readPassword reads the first line of in.
func readPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no input on stdin")
	}
	return line, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
