package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/securestore"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: session [flags] <command> [command flags]

commands:
  login     -email -password      sign in and persist the session
  register  -name -email -password create an account and sign in
  logout                          revoke and clear the session
  whoami                          fetch the signed-in user
  status                          show the persisted session
  refresh                         rotate the credential pair now
  health                          check the backend is up
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		color.Red("error: %s", err)
		os.Exit(1)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	global := flag.NewFlagSet("session", flag.ContinueOnError)
	quiet := global.Bool("quiet", false, "suppress the banner")
	showMetrics := global.Bool("metrics", false, "print session counters after the command")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("no command given")
	}

	c := config.New()
	setupLogging(c)
	if !*quiet {
		displayAppname(c.GetAppName())
	}

	store, err := securestore.OpenFileStore(c.GetSessionFile(), c.GetSessionPassphrase())
	if err != nil {
		return fmt.Errorf("opening session file %s: %w", c.GetSessionFile(), err)
	}

	registry := prometheus.NewRegistry()
	service := auth.New(c, store, auth.WithMetricsRegisterer(registry))
	defer service.Close()
	service.OnInvalidated(func() {
		color.Yellow("session expired, please log in again")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := service.Load(ctx); err != nil {
		return err
	}

	if err := dispatch(ctx, service, global.Arg(0), global.Args()[1:]); err != nil {
		return err
	}
	if *showMetrics {
		return printMetrics(registry)
	}
	return nil
}

func dispatch(ctx context.Context, service *auth.SessionService, command string, args []string) error {
	switch command {
	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if _, err := service.SignIn(ctx, *email, *password); err != nil {
			return err
		}
		printSignedIn(service.State())
	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		name := fs.String("name", "", "full name")
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		req := oauthmodel.RegisterRequest{FullName: *name, Email: *email, Password: *password}
		if _, err := service.SignUp(ctx, req); err != nil {
			return err
		}
		printSignedIn(service.State())
	case "logout":
		if err := service.SignOut(ctx); err != nil {
			return err
		}
		color.Green("signed out")
	case "whoami":
		profile, err := service.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s <%s> (%s)\n", profile.FullName, profile.Email, profile.ID)
	case "status":
		printStatus(service.State())
	case "refresh":
		access, err := service.Refresh(ctx)
		if err != nil {
			return err
		}
		color.Green("refreshed, access token valid for %s", token.NewClock().TimeUntilExpiry(access).Round(time.Second))
	case "health":
		h, err := service.Health(ctx)
		if err != nil {
			return err
		}
		color.Green("backend %s", h.Status)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func printSignedIn(state auth.State) {
	if state.Profile != nil {
		color.Green("signed in as %s <%s>", state.Profile.FullName, state.Profile.Email)
		return
	}
	color.Green("signed in")
}

func printStatus(state auth.State) {
	if !state.Authenticated() {
		color.Yellow("not signed in")
		return
	}
	clock := token.NewClock()
	if exp, ok := clock.ExpiresAt(state.AccessToken); ok {
		remaining := clock.TimeUntilExpiry(state.AccessToken).Round(time.Second)
		if remaining == 0 {
			color.Yellow("signed in, access token expired at %s (refreshes on next request)", exp.Local().Format(time.RFC1123))
		} else {
			color.Green("signed in, access token expires in %s", remaining)
		}
	}
	if state.Profile != nil {
		fmt.Printf("  %s <%s>\n", state.Profile.FullName, state.Profile.Email)
	}
}

func printMetrics(gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		color.Cyan(line)
	}
	return nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
