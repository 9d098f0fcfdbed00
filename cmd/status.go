package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"grimm.is/hmdl/internal/api"
	"grimm.is/hmdl/internal/brand"
	"grimm.is/hmdl/internal/i18n"
)

// RunStatus prints the install status and service health. Plain output is
// unstyled and meant for scripts.
func RunStatus(configPath, server string, plain bool, out io.Writer) error {
	server, err := serverURL(configPath, server)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newInstallClient(server)
	status, err := client.isSetup(ctx)
	if err != nil {
		return errors.New(Printer.Sprintf(i18n.MsgServerUnreachable, server, err))
	}
	health, err := client.health(ctx)
	if err != nil {
		return errors.New(Printer.Sprintf(i18n.MsgServerUnreachable, server, err))
	}

	if plain {
		fmt.Fprint(out, plainStatus(status))
		return nil
	}
	fmt.Fprintln(out, renderStatus(status, health))
	return nil
}

func plainStatus(status api.IsSetupResponse) string {
	s := Printer.Sprintf(i18n.MsgStatusLine, status.Status) + "\n"
	if status.Domain != nil {
		s += Printer.Sprintf(i18n.MsgDomainLine, *status.Domain) + "\n"
	}
	return s
}

func renderStatus(status api.IsSetupResponse, health api.HealthResponse) string {
	var b strings.Builder
	b.WriteString(styleTitle.Render(brand.Name))
	b.WriteString("\n")

	statusStyle := styleWarn
	switch status.Status {
	case "Setup":
		statusStyle = styleGood
	case "Not Setup":
		statusStyle = styleBad
	}
	b.WriteString(styleLabel.Render("Status") + statusStyle.Render(status.Status) + "\n")
	if status.Domain != nil {
		b.WriteString(styleLabel.Render("Domain") + *status.Domain + "\n")
	}

	for _, svc := range health.Services {
		state := styleGood.Render("running")
		if !svc.Running {
			state = styleBad.Render("stopped")
		}
		line := styleLabel.Render(svc.Name) + state
		if svc.Error != "" {
			line += " " + svc.Error
		}
		b.WriteString(line + "\n")
	}
	return styleCard.Render(strings.TrimSuffix(b.String(), "\n"))
}
