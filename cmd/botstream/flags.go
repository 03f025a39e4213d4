package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/botstream/internal/config"
)

// sizeFlag is a pflag.Value for human-readable byte sizes such as "10M".
// An empty value means unlimited.
type sizeFlag struct {
	raw   string
	bytes int64
}

var _ pflag.Value = (*sizeFlag)(nil)

func (f *sizeFlag) String() string { return f.raw }
func (*sizeFlag) Type() string     { return "size" }

func (f *sizeFlag) Set(val string) error {
	if val == "" {
		f.raw, f.bytes = "", 0
		return nil
	}
	n, err := config.ParseSize(val)
	if err != nil {
		return err
	}
	f.raw, f.bytes = val, n
	return nil
}

// resolveSendLimit returns --send-limit in bytes per second, falling back to
// session.send_limit when the flag was not given.
func resolveSendLimit(cmd *cobra.Command) (int64, error) {
	if !cmd.Flags().Changed("send-limit") {
		return cfg.Session.SendLimitBytes()
	}
	f, ok := cmd.Flags().Lookup("send-limit").Value.(*sizeFlag)
	if !ok {
		return 0, fmt.Errorf("--send-limit: unexpected flag type %T", cmd.Flags().Lookup("send-limit").Value)
	}
	return f.bytes, nil
}
