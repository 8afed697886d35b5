// Command driver dumps the state of every reachable WireGuard device and
// shows a round trip through the configuration path.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"wg-ipc/ipc"
	"wg-ipc/wgtypes"
)

func main() {
	var (
		configure = flag.String("configure", "", "device to configure with a fresh key and listen port")
		port      = flag.Int("port", 51820, "listen port used with -configure")
		debug     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	m, err := ipc.NewManager()
	if err != nil {
		zap.S().Fatalw("opening manager", "err", err)
	}
	defer m.Close()

	if *configure != "" {
		if err := configureDevice(m, *configure, *port); err != nil {
			zap.S().Fatalw("configuring device", "device", *configure, "err", err)
		}
	}

	devices, err := m.Devices()
	if err != nil {
		zap.S().Fatalw("listing devices", "err", err)
	}
	for _, d := range devices {
		printDevice(d)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func configureDevice(m *ipc.Manager, name string, port int) error {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return err
	}

	err = m.ConfigureDevice(name, wgtypes.Config{
		PrivateKey:   &priv,
		ListenPort:   &port,
		ReplacePeers: true,
	})
	if err != nil {
		return err
	}

	zap.S().Infow("configured device",
		"device", name,
		"port", port,
		"public_key", priv.PublicKey(),
	)
	return nil
}

func printDevice(d *wgtypes.Device) {
	fmt.Printf("interface: %s (%s)\n", d.Name, d.Type)
	if d.ListenPort != 0 {
		fmt.Printf("  listening port: %d\n", d.ListenPort)
	}
	if !d.PublicKey.IsZero() {
		fmt.Printf("  public key: %s\n", d.PublicKey)
	}

	for _, p := range d.Peers {
		fmt.Printf("  peer: %s\n", p.PublicKey)
		if p.Endpoint != nil {
			fmt.Printf("    endpoint: %s\n", p.Endpoint)
		}
		for _, ipn := range p.AllowedIPs {
			fmt.Printf("    allowed ip: %s\n", ipn.String())
		}
		if !p.LastHandshakeTime.IsZero() {
			fmt.Printf("    latest handshake: %s\n", p.LastHandshakeTime)
		}
		if p.ReceiveBytes != 0 || p.TransmitBytes != 0 {
			fmt.Printf("    transfer: %d received, %d sent\n", p.ReceiveBytes, p.TransmitBytes)
		}
	}
}
