package main

import (
	"flag"
	"os"

	"grimm.is/hmdl/cmd"
	"grimm.is/hmdl/internal/brand"
	"grimm.is/hmdl/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		runFlags.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")
		runFlags.Parse(os.Args[2:])

		if err := cmd.RunDaemon(*configFile); err != nil {
			printer.Fprintf(os.Stderr, "Run failed: %v\n", err)
			os.Exit(1)
		}

	case "setup":
		setupFlags := flag.NewFlagSet("setup", flag.ExitOnError)
		var opts cmd.SetupOptions
		setupFlags.StringVar(&opts.ConfigPath, "config", brand.DefaultConfigPath(), "Configuration file")
		setupFlags.StringVar(&opts.Server, "server", "", "Install server URL (default from config)")
		setupFlags.StringVar(&opts.Domain, "domain", "", "Application domain")
		setupFlags.StringVar(&opts.Token, "token", "", "Cloudflare API token")
		setupFlags.StringVar(&opts.Email, "email", "", "ACME contact email")
		setupFlags.Parse(os.Args[2:])

		if err := cmd.RunSetup(opts); err != nil {
			printer.Fprintf(os.Stderr, "Setup failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := statusFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		server := statusFlags.String("server", "", "Install server URL (default from config)")
		plain := statusFlags.Bool("plain", false, "Unstyled output")
		statusFlags.Parse(os.Args[2:])

		if err := cmd.RunStatus(*configFile, *server, *plain, os.Stdout); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version", "-v", "--version":
		printer.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf("Usage: %s <command> [options]\n\n", brand.BinaryName)
	printer.Println("Commands:")
	printer.Println("  run       Start the resolver and all services")
	printer.Println("  setup     Send the install settings to the local server")
	printer.Println("  status    Show install status and service health")
	printer.Println("  version   Print version")
}
