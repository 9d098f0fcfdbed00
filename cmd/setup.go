package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"grimm.is/hmdl/internal/i18n"
	"grimm.is/hmdl/internal/setup"
)

// SetupOptions holds the values for `hmdl setup`. Empty fields are asked
// for interactively.
type SetupOptions struct {
	ConfigPath string
	Server     string
	Domain     string
	Token      string
	Email      string
}

// RunSetup sends the install settings to the local install server.
func RunSetup(opts SetupOptions) error {
	server, err := serverURL(opts.ConfigPath, opts.Server)
	if err != nil {
		return err
	}

	req := setup.Request{
		ApplicationDomain:  opts.Domain,
		CloudflareAPIToken: opts.Token,
		ACMEEmail:          opts.Email,
	}
	if req.ApplicationDomain == "" || req.CloudflareAPIToken == "" || req.ACMEEmail == "" {
		if err := setupForm(&req).Run(); err != nil {
			return fmt.Errorf("setup cancelled: %w", err)
		}
	}
	if _, err := req.Settings(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := newInstallClient(server).setup(ctx, req)
	if errors.Is(err, errAlreadySetup) {
		Printer.Println(styleWarn.Render(Printer.Sprintf(i18n.MsgAlreadySetup)))
		return nil
	}
	if err != nil {
		return errors.New(Printer.Sprintf(i18n.MsgServerUnreachable, server, err))
	}

	domain := req.ApplicationDomain
	if resp.Domain != nil {
		domain = *resp.Domain
	}
	Printer.Println(styleGood.Render(Printer.Sprintf(i18n.MsgSetupAccepted, domain)))
	return nil
}

func setupForm(req *setup.Request) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Application domain").
				Description("Public name the appliance will answer HTTPS on").
				Placeholder("home.example.org").
				Value(&req.ApplicationDomain).
				Validate(func(s string) error {
					_, err := setup.NormalizeDomain(s)
					return err
				}),
			huh.NewInput().
				Title("Cloudflare API token").
				Description("Needs DNS edit permission on the zone").
				EchoMode(huh.EchoModePassword).
				Value(&req.CloudflareAPIToken).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("ACME contact email").
				Value(&req.ACMEEmail).
				Validate(func(s string) error {
					_, err := mail.ParseAddress(s)
					return err
				}),
		),
	)
}

func serverURL(configPath, override string) (string, error) {
	if override != "" {
		return strings.TrimSuffix(override, "/"), nil
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return "", err
	}
	return installURL(cfg), nil
}
