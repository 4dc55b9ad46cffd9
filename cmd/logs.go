package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/logging"
	"github.com/grovetools/tabsd/pkg/paths"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// TailedLine is a line of log output from one component's log file.
type TailedLine struct {
	Component string
	Line      string
}

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [component...]",
		Short: "Show the daemon's log files",
		Long: `Prints today's log files from the log directory. Every component logs to its
own file; pass component names to restrict the output.

Examples:
  # Follow everything the daemon logs
  tabsd logs -f

  # The last 50 lines of the connection and server components
  tabsd logs connection server --tail 50
`,
		RunE: runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", -1, "Number of lines to show from the end of each file (default: all)")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	logger := cli.GetLogger(cmd, "logs")
	opts := cli.GetOptions(cmd)
	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")

	files, err := logFiles(paths.LogDir(), args, time.Now())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Info("No log files found for today.")
		return nil
	}

	lineChan := make(chan TailedLine, 100)
	var wg sync.WaitGroup
	var tails []*tail.Tail
	var mu sync.Mutex

	for component, path := range files {
		wg.Add(1)
		go func(component, path string) {
			defer wg.Done()
			for _, line := range lastLines(path, tailLines) {
				lineChan <- TailedLine{Component: component, Line: line}
			}
			if !follow {
				return
			}
			t, err := tail.TailFile(path, tail.Config{
				Follow:   true,
				ReOpen:   true,
				Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
				Logger:   stdlog.New(io.Discard, "", 0),
			})
			if err != nil {
				logger.WithField("file", path).WithError(err).Debug("Cannot follow log file")
				return
			}
			mu.Lock()
			tails = append(tails, t)
			if cmd.Context().Err() != nil {
				t.Stop()
			}
			mu.Unlock()
			for line := range t.Lines {
				lineChan <- TailedLine{Component: component, Line: line.Text}
			}
		}(component, path)
	}

	go func() {
		<-cmd.Context().Done()
		mu.Lock()
		defer mu.Unlock()
		for _, t := range tails {
			t.Stop()
		}
	}()

	// Close channel when all tailing goroutines are done
	go func() {
		wg.Wait()
		close(lineChan)
	}()

	out := cmd.OutOrStdout()
	for tailedLine := range lineChan {
		if opts.JSONOutput {
			printLogJSON(out, tailedLine)
		} else {
			printLogText(out, tailedLine)
		}
	}
	return nil
}

// logFiles maps each component to its log file of day t. With no
// components given every file of that day is returned.
func logFiles(dir string, components []string, t time.Time) (map[string]string, error) {
	files := make(map[string]string)
	if len(components) > 0 {
		for _, c := range components {
			files[c] = logging.DailyLogPath(dir, c, t)
		}
		return files, nil
	}

	suffix := "-" + t.Format("2006-01-02") + ".log"
	matches, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		files[strings.TrimSuffix(filepath.Base(m), suffix)] = m
	}
	return files, nil
}

// lastLines reads path to the end and keeps the last n lines; n < 0 keeps
// every line and n == 0 none.
func lastLines(path string, n int) []string {
	if n == 0 {
		return nil
	}
	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return nil
	}
	defer t.Cleanup()

	var lines []string
	for line := range t.Lines {
		if line.Text == "" {
			continue
		}
		lines = append(lines, line.Text)
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}

// printLogJSON prints a log line as JSON, enriched with the component name.
func printLogJSON(w io.Writer, tailedLine TailedLine) {
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(tailedLine.Line), &logMap); err != nil {
		// Fallback for non-JSON lines
		logMap = map[string]interface{}{"raw_line": tailedLine.Line}
	}
	if _, ok := logMap["component"]; !ok {
		logMap["component"] = tailedLine.Component
	}
	jsonData, _ := json.Marshal(logMap)
	fmt.Fprintln(w, string(jsonData))
}

// printLogText pretty-prints a log line for human consumption. Lines written
// by the text formatter are printed as they are.
func printLogText(w io.Writer, tailedLine TailedLine) {
	t := cli.DefaultTheme
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(tailedLine.Line), &logMap); err != nil {
		fmt.Fprintf(w, "%s %s\n", t.Muted.Render("["+tailedLine.Component+"]"), tailedLine.Line)
		return
	}

	ts, _ := logMap["time"].(string)
	level, _ := logMap["level"].(string)
	msg, _ := logMap["msg"].(string)

	parsedTime, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		parsedTime, _ = time.Parse(time.RFC3339, ts)
	}

	var levelStyle lipgloss.Style
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		levelStyle = lipgloss.NewStyle().Foreground(t.Colors.Red)
	case "warning":
		levelStyle = lipgloss.NewStyle().Foreground(t.Colors.Yellow)
	case "info":
		levelStyle = lipgloss.NewStyle().Foreground(t.Colors.Cyan)
	default:
		levelStyle = t.Muted
	}

	var keys []string
	for k := range logMap {
		if k != "time" && k != "level" && k != "msg" && k != "component" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", t.Muted.Render(k), logMap[k]))
	}

	fmt.Fprintf(w, "%s %s %s %s %s\n",
		parsedTime.Format("15:04:05"),
		levelStyle.Render(strings.ToUpper(level)),
		t.Muted.Render("["+tailedLine.Component+"]"),
		msg,
		strings.Join(fields, " "),
	)
}
