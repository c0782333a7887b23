// Command donorsync is a terminal client for the donorlink platform. It keeps
// the session in a local database and follows dashboard updates live.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"donorlink.org/internal/access"
	"donorlink.org/internal/api"
	"donorlink.org/internal/apperr"
	"donorlink.org/internal/config"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/realtime"
	"donorlink.org/internal/registration"
	"donorlink.org/internal/session"
	"donorlink.org/internal/store/sqlstore"
)

const usage = "usage: donorsync [login|logout|whoami|check|register|watch] [flags]"

type app struct {
	cfg     config.Client
	session *session.Store
	client  *api.Client
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		log.Fatal(usage)
	}
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Open(cfg.SessionDSN)
	if err != nil {
		log.Fatalf("open session store: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate session store: %v", err)
	}

	store, err := session.NewStore(ctx, db)
	if err != nil {
		log.Fatalf("load session: %v", err)
	}
	client, err := api.New(cfg.APIURL, api.WithTimeout(cfg.HTTPTimeout), api.WithTokenSource(store))
	if err != nil {
		log.Fatalf("api client: %v", err)
	}
	a := &app{cfg: cfg, session: store, client: client}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "login":
		err = a.login(ctx, args)
	case "logout":
		err = store.Clear(ctx)
	case "whoami":
		err = a.whoami(ctx)
	case "check":
		err = a.check(ctx, args)
	case "register":
		err = a.register(ctx, args)
	case "watch":
		err = a.watch(ctx)
	default:
		log.Fatal(usage)
	}
	if err != nil {
		log.Fatalf("%s: %s", cmd, apperr.UserMessage(err))
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("DONORLINK_PASSWORD"), "account password")
	_ = fs.Parse(args)

	res, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if err := a.session.SetSession(ctx, res.Token, res.User); err != nil {
		return err
	}
	role := a.session.Role(ctx)
	fmt.Printf("logged in as %s (%s), home %s\n", res.User.Email, role, access.Home(role))
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	if !a.session.IsAuthenticated() {
		fmt.Println("not logged in")
		return nil
	}
	u := a.session.User()
	fmt.Printf("%s <%s> role=%s\n", u.Name, u.Email, a.session.Role(ctx))
	return nil
}

func (a *app) check(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: donorsync check <path>")
	}
	auth := access.NewAuthority(a.session, access.DefaultRoutes)
	d := auth.Check(ctx, args[0])
	if d.Allowed {
		fmt.Printf("%s: allowed\n", args[0])
		return nil
	}
	fmt.Printf("%s: redirect to %s (%s)\n", args[0], d.Redirect, d.Reason)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	var reg domain.PendingRegistration
	admin := fs.Bool("admin", false, "register an administrator")
	fs.StringVar(&reg.Name, "name", "", "display name")
	fs.StringVar(&reg.Email, "email", "", "email")
	fs.StringVar(&reg.Password, "password", os.Getenv("DONORLINK_PASSWORD"), "password")
	fs.StringVar(&reg.Role, "role", "donor", "donor or ngo")
	fs.StringVar(&reg.ContactInfo, "contact", "", "contact info (donors)")
	fs.StringVar(&reg.SecurityCode, "security-code", os.Getenv("DONORLINK_ADMIN_SECURITY_CODE"), "admin security code")
	fs.StringVar(&reg.NGO.RegistrationNumber, "reg-number", "", "NGO registration number")
	fs.StringVar(&reg.NGO.Address, "address", "", "NGO address")
	fs.StringVar(&reg.NGO.City, "city", "", "NGO city")
	fs.StringVar(&reg.NGO.State, "state", "", "NGO state")
	fs.StringVar(&reg.NGO.Pincode, "pincode", "", "NGO pincode")
	fs.StringVar(&reg.NGO.ContactPersonName, "contact-person", "", "NGO contact person")
	fs.StringVar(&reg.NGO.PhoneNumber, "phone", "", "NGO phone number")
	_ = fs.Parse(args)

	opts := registration.Options{PendingTTL: a.cfg.PendingTTL, ResendInterval: a.cfg.ResendInterval}
	m := registration.New(a.client, a.session, opts)
	if *admin {
		m = registration.NewAdmin(a.client, a.session, opts)
	}
	st, err := m.Submit(ctx, reg)
	if err != nil {
		return err
	}
	printState(st)

	in := bufio.NewScanner(os.Stdin)
	for st.Step == registration.OtpIssued {
		fmt.Print("code (or 'resend'): ")
		if !in.Scan() {
			_, err := m.Abandon()
			return err
		}
		line := strings.TrimSpace(in.Text())
		if line == "resend" {
			st, err = m.Resend(ctx)
		} else {
			st, err = m.Verify(ctx, line)
		}
		if err != nil {
			fmt.Println(apperr.UserMessage(err))
			if errors.Is(err, apperr.ErrRestartRequired) {
				return err
			}
			continue
		}
		printState(st)
	}
	return nil
}

func printState(st registration.State) {
	line := string(st.Step)
	if st.Message != "" {
		line += ": " + st.Message
	}
	if st.Redirect != "" {
		line += " -> " + st.Redirect
	}
	fmt.Println(line)
}

func (a *app) watch(ctx context.Context) error {
	if !a.session.IsAuthenticated() {
		return apperr.New(apperr.KindForbidden, "Please log in first")
	}
	ch := realtime.NewChannel(a.client, realtime.NewWebsocketDialer(a.cfg.HTTPTimeout), a.session, realtime.Options{
		URL:                  a.client.RealtimeURL(),
		PollInterval:         a.cfg.PollInterval,
		ReconnectBase:        a.cfg.ReconnectBase,
		MaxReconnectAttempts: a.cfg.MaxReconnectAttempts,
	})
	updates := ch.Updates(ctx)
	if err := ch.Start(ctx); err != nil {
		return err
	}
	defer ch.Close()

	changes := a.session.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if c.Kind == session.Unauthenticated {
				fmt.Println("session ended")
				return nil
			}
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			a.printUpdate(ch.View(), u)
		}
	}
}

func (a *app) printUpdate(v *realtime.View, u realtime.Update) {
	ts := time.Now().Format(time.TimeOnly)
	switch u.Event {
	case realtime.EventContributionStatus:
		if c, ok := v.Contribution(u.ID); ok {
			fmt.Printf("%s [%s] contribution %s %q is %s\n", ts, u.Source, c.ID, c.Title, c.Status)
		}
	case realtime.EventNotificationNew:
		for _, n := range v.Notifications() {
			if n.ID == u.ID {
				fmt.Printf("%s [%s] notification: %s (%d unread)\n", ts, u.Source, n.Message, v.Unread())
			}
		}
	default:
		if s := v.Stats(); s != nil {
			fmt.Printf("%s [%s] %s stats %v\n", ts, u.Source, s.Scope, s.Counters)
		} else {
			fmt.Printf("%s [%s] %s\n", ts, u.Source, u.Event)
		}
	}
}
