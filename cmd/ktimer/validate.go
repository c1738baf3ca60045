package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/config"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Load the configuration the way the service does and report errors,
unknown keys and exception days listed more than once. With --dump the
effective settings and every user's weekly schedule are printed.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Print effective settings and schedules")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	snap, warnings, err := cfg.Snapshot()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	unknown, err := findUnknownKeys(configPath)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("could not check for unknown keys: %v", err))
	}
	for _, key := range unknown {
		warnings = append(warnings, fmt.Sprintf("unknown key %s is ignored", key))
	}

	out := os.Stdout
	_, _ = fmt.Fprintf(out, "%s: ok, %d monitored user(s)\n", configPath, len(snap.Users()))
	yellow := color.New(color.FgYellow)
	for _, w := range warnings {
		_, _ = yellow.Fprintf(out, "warning: %s\n", w)
	}

	if validateDump {
		_, _ = fmt.Fprintln(out)
		writeSettings(out, cfg, config.Default())
		_, _ = fmt.Fprintln(out)
		writeSchedules(out, snap, calendar.Today(calendar.RealClock{}))
	}
	return nil
}

// setting is one scalar configuration key and its effective value
type setting struct {
	key   string
	value interface{}
}

// settings lists every scalar key in the order it is documented. Users are
// reported separately by writeSchedules.
func settings(cfg *config.Config) []setting {
	password := ""
	if cfg.Storage.Redis.Password != "" {
		password = "(set)"
	}
	return []setting{
		{"interval", cfg.Interval},
		{"storage.type", cfg.Storage.Type},
		{"storage.path", cfg.Storage.Path},
		{"storage.redis.host", cfg.Storage.Redis.Host},
		{"storage.redis.port", cfg.Storage.Redis.Port},
		{"storage.redis.password", password},
		{"storage.redis.db", cfg.Storage.Redis.DB},
		{"storage.redis.key", cfg.Storage.Redis.Key},
		{"storage.redis.dial_timeout", cfg.Storage.Redis.DialTimeout},
		{"storage.redis.read_timeout", cfg.Storage.Redis.ReadTimeout},
		{"storage.redis.write_timeout", cfg.Storage.Redis.WriteTimeout},
		{"policy.command", cfg.Policy.Command},
		{"policy.args", cfg.Policy.Args},
		{"host.command", cfg.Host.Command},
		{"host.args", cfg.Host.Args},
		{"host.timeout", cfg.Host.Timeout},
		{"logging.level", cfg.Logging.Level},
		{"logging.format", cfg.Logging.Format},
		{"metrics.enabled", cfg.Metrics.Enabled},
		{"metrics.bind_address", cfg.Metrics.BindAddress},
		{"metrics.port", cfg.Metrics.Port},
		{"monitor.poll_interval", cfg.Monitor.PollInterval},
		{"monitor.warn_minutes", cfg.Monitor.WarnMinutes},
	}
}

// writeSettings prints each setting, highlighting values changed from def.
func writeSettings(w io.Writer, cfg, def *config.Config) {
	changed := color.New(color.FgYellow, color.Bold)
	defaults := settings(def)

	for i, s := range settings(cfg) {
		line := fmt.Sprintf("%-28s %v", s.key, s.value)
		if reflect.DeepEqual(s.value, defaults[i].value) {
			_, _ = fmt.Fprintln(w, line)
			continue
		}
		_, _ = changed.Fprintf(w, "%s  (default %v)\n", line, defaults[i].value)
	}
}

// writeSchedules prints the weekly limits and date overrides of every
// monitored user, and the limit in force on today.
func writeSchedules(w io.Writer, snap *quota.Snapshot, today calendar.Date) {
	users := snap.Users()
	if len(users) == 0 {
		_, _ = fmt.Fprintln(w, "no users configured, everyone is unmonitored")
		return
	}

	bold := color.New(color.Bold)
	for _, user := range users {
		p, _ := snap.Policy(user)

		_, _ = bold.Fprintf(w, "%s (today %d min)\n", user, p.LimitFor(today))
		days := make([]string, 0, calendar.DaysPerWeek)
		for _, day := range calendar.Weekdays {
			days = append(days, fmt.Sprintf("%s %d", day.String()[:3], p.Weekly.Limit(day)))
		}
		_, _ = fmt.Fprintf(w, "  weekly     %s\n", strings.Join(days, "  "))

		dates := make([]calendar.Date, 0, len(p.Overrides))
		for d := range p.Overrides {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		for _, d := range dates {
			_, _ = fmt.Fprintf(w, "  override   %s=%d\n", d, p.Overrides[d])
		}
	}
}

// findUnknownKeys reads the file without defaults and reports keys no
// setting or user field consumes.
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := map[string]bool{"users": true}
	for _, s := range settings(config.Default()) {
		known[s.key] = true
	}

	var unknown []string
	for _, key := range v.AllKeys() {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}

	// viper does not flatten list entries
	if raw, ok := v.Get("users").([]interface{}); ok {
		for i, entry := range raw {
			unknown = append(unknown, unknownUserKeys(i, entry)...)
		}
	}

	sort.Strings(unknown)
	return unknown, nil
}

func unknownUserKeys(index int, entry interface{}) []string {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return nil
	}

	var unknown []string
	prefix := fmt.Sprintf("users[%d]", index)
	for key, value := range m {
		switch strings.ToLower(key) {
		case "name", "exceptions":
		case "limits":
			limits, _ := value.(map[string]interface{})
			for day := range limits {
				// limits take full day names only
				if wd, err := calendar.ParseWeekday(day); err != nil || wd.String() != strings.ToLower(day) {
					unknown = append(unknown, prefix+".limits."+day)
				}
			}
		default:
			unknown = append(unknown, prefix+"."+key)
		}
	}
	return unknown
}
