package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vdbgsuite/vdbg/config"
	"github.com/vdbgsuite/vdbg/internal/device"
	"github.com/vdbgsuite/vdbg/internal/session"
	"github.com/vdbgsuite/vdbg/internal/ws"
)

var rootCmd = &cobra.Command{
	Use:   "vdbg",
	Short: "vdbg - virtual device debugger",
	Long:  `vdbg runs programs on the reference virtual machine and exposes them to debuggers over a byte-stream protocol or a websocket server.`,
}

var piped bool

var runCmd = &cobra.Command{
	Use:   "run <image>",
	Short: "Run a raw program image on the virtual machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		mach := device.NewMachine()
		if err := mach.Load(image); err != nil {
			return err
		}
		if !piped {
			return freeRun(mach)
		}
		if term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "warning: piped mode writes binary frames; stdout is a terminal")
		}
		sess := session.New(mach, os.Stdin, os.Stdout)
		return sess.Run()
	},
}

var (
	serveAddr   string
	serveImage  string
	serveConfig string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve debug sessions to websocket controllers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfig)
		if err != nil {
			log.Printf("Failed to load config: %v, using defaults", err)
			cfg = config.Default()
		}
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		imagePath := cfg.Server.Image
		if serveImage != "" {
			imagePath = serveImage
		}
		if imagePath == "" {
			return fmt.Errorf("no program image: pass --image or set server.image in %s", serveConfig)
		}
		image, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		server := ws.NewServer(addr, &cfg.WebSocket, image)
		return server.Serve()
	},
}

// freeRun executes the program without the debug protocol: output to
// stdout/stderr, input read directly from the terminal.
func freeRun(mach *device.Machine) error {
	in := bufio.NewReader(os.Stdin)
	res := mach.Execute()
	for {
		if res.Output != "" {
			fmt.Print(res.Output)
		}
		if res.ErrText != "" {
			fmt.Fprint(os.Stderr, res.ErrText)
		}
		switch res.Outcome {
		case device.OutcomeNeedsKey:
			key, err := in.ReadByte()
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			res = mach.ProvideKey(key)
			continue
		case device.OutcomeNeedsString:
			line, err := in.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read string: %w", err)
			}
			res = mach.ProvideString(strings.TrimRight(line, "\r\n"))
			continue
		case device.OutcomeHalted:
			return nil
		case device.OutcomeCrashed:
			return fmt.Errorf("program crashed: %w", res.Err)
		}
		res = mach.Execute()
	}
}

func init() {
	runCmd.Flags().BoolVar(&piped, "piped", false, "speak the debug protocol on stdin/stdout instead of running freely")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveImage, "image", "", "program image for new sessions (overrides config)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "config/config.yml", "config file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
