package cmd

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// applyConfigDefaults merges config file values into the scan options when
// the user did not explicitly set the corresponding flag.
func applyConfigDefaults() {
	flags := scanCmd.Flags()

	if viper.IsSet("scan.timeout_secs") {
		applyDurationDefault(flags, "timeout", time.Duration(viper.GetInt("scan.timeout_secs"))*time.Second, func(v time.Duration) {
			scanOpts.timeout = v
		})
	}
	if viper.IsSet("scan.user_agent") {
		applyStringDefault(flags, "user-agent", viper.GetString("scan.user_agent"), func(v string) {
			scanOpts.userAgent = v
		})
	}
	if viper.IsSet("scan.concurrency") {
		applyIntDefault(flags, "concurrency", viper.GetInt("scan.concurrency"), func(v int) {
			scanOpts.concurrency = v
		})
	}
	if viper.IsSet("scan.rate") {
		applyIntDefault(flags, "rate", viper.GetInt("scan.rate"), func(v int) {
			scanOpts.rateLimit = v
		})
	}
	if viper.IsSet("scan.format") {
		applyStringDefault(flags, "format", viper.GetString("scan.format"), func(v string) {
			scanOpts.format = v
		})
	}
	if viper.IsSet("scan.dns") {
		if flag := flags.Lookup("dns"); flag != nil && !flag.Changed {
			scanOpts.dns = viper.GetStringSlice("scan.dns")
		}
	}
}

func applyIntDefault(flags *pflag.FlagSet, name string, value int, setter func(int)) {
	if flag := flags.Lookup(name); flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyStringDefault(flags *pflag.FlagSet, name, value string, setter func(string)) {
	if flag := flags.Lookup(name); flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyDurationDefault(flags *pflag.FlagSet, name string, value time.Duration, setter func(time.Duration)) {
	if flag := flags.Lookup(name); flag != nil && flag.Changed {
		return
	}
	setter(value)
}
