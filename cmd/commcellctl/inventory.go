package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// newClientsCmd lists the clients configured on the Commcell.
func newClientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List the clients configured on the Commcell",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, err := connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			clients, err := s.cc.Clients().All(ctx)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(clients))
			for name := range clients {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				fmt.Printf("%-8s %s\n", clients[name], name)
			}
			return nil
		},
	}
}

// newTopologiesCmd lists the network topologies of the Commcell.
func newTopologiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topologies",
		Short: "List the network topologies of the Commcell",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, err := connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			topologies, err := s.cc.NetworkTopologies().All(ctx)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(topologies))
			for name := range topologies {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				fmt.Printf("%-8s %s\n", topologies[name], name)
			}
			return nil
		},
	}
}
