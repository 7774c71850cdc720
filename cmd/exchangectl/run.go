package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nodeglass/exchange/internal/exchange"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		selfID          uint64
		group           string
		configPath      string
		namespaces      []string
		heartbeatMillis int64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an exchange node and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := exchange.LoadConfig(configPath)
			if err != nil {
				return err
			}
			for _, name := range namespaces {
				cfg.Namespaces = append(cfg.Namespaces, exchange.NamespaceConfig{Name: name})
			}

			transport, err := exchange.NewReltTransport(exchange.NodeID(selfID), group)
			if err != nil {
				return fmt.Errorf("joining group %q: %w", group, err)
			}
			defer transport.Close()

			ex, err := exchange.NewExchange(exchange.NodeID(selfID), cfg, exchange.Dependencies{
				Transport: transport,
				Balance:   &loggingBalance{},
				Heartbeat: fixedHeartbeat(heartbeatMillis),
			})
			if err != nil {
				return err
			}

			if err := ex.RegisterListener(func(ev exchange.ClusterChangedEvent) {
				ex.Dump(exchange.SeverityInfo)
			}); err != nil {
				return err
			}
			if err := ex.Start(); err != nil {
				return err
			}
			defer ex.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}

	cmd.Flags().Uint64Var(&selfID, "self", 0, "this node's id")
	cmd.Flags().StringVar(&group, "group", "exchange", "fabric group name to join")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringSliceVar(&namespaces, "namespace", nil, "namespace name to track (repeatable)")
	cmd.Flags().Int64Var(&heartbeatMillis, "heartbeat-millis", 1000, "heartbeat transmit interval used to size retransmission timeouts")
	cmd.MarkFlagRequired("self")

	return cmd
}

// loggingBalance is a standalone placeholder for the real partition-balance
// engine, which lives outside this module's scope; it only logs so `run`
// has something to observe manually.
type loggingBalance struct{}

func (loggingBalance) DisallowMigrations()    { fmt.Println("balance: migrations disallowed") }
func (loggingBalance) SynchronizeMigrations() { fmt.Println("balance: migrations synchronized") }
func (loggingBalance) Balance()               { fmt.Println("balance: rebalance triggered") }
func (loggingBalance) RevertToOrphan()        { fmt.Println("balance: reverted to orphan") }

type fixedHeartbeat int64

func (h fixedHeartbeat) TxIntervalMillis() int64 { return int64(h) }
