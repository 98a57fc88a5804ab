package main

import (
	"errors"

	flags "github.com/jessevdk/go-flags"

	"civverify/internal/platform/config"
)

type options struct {
	EnvFile      string `long:"env-file" description:"env file to read, created with loopback defaults when missing"`
	InitRegistry bool   `long:"init-registry" description:"create an empty registry file if none exists before loading it"`
}

func parseOptions(args []string) (options, error) {
	opts := options{EnvFile: config.DefaultEnvFile}
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func isHelp(err error) bool {
	var fe *flags.Error
	return errors.As(err, &fe) && fe.Type == flags.ErrHelp
}
