package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"bondengine/pkg/engine"
	"bondengine/pkg/memory"

	"github.com/spf13/cobra"
)

type pairFlags struct {
	user    string
	persona string
}

func (f *pairFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.user, "user", "u", "cli-user", "user id")
	cmd.Flags().StringVarP(&f.persona, "persona", "p", "bonnie", "persona id")
}

func newSimulateCmd(a *app) *cobra.Command {
	var (
		pair pairFlags
		snap engine.CounterSnapshot
	)
	cmd := &cobra.Command{
		Use:   "simulate [message...]",
		Short: "Send messages through the engine as a user",
		Long: `Sends each argument as one message, or each line of stdin when no
arguments are given, and prints the persona's replies, tier upgrades and offers.

The activity flags are the host totals reported with every message.`,
		Example: `  bondctl simulate -u sam -p nova "hi there" "i had a rough day"
  bondctl simulate --time-spent 3600 --visits 5 --days 5 --purchased < chat.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.open()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			messages := args
			if len(messages) == 0 {
				messages, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			var name string
			for _, msg := range messages {
				env, err := eng.ProcessMessage(cmd.Context(), pair.user, pair.persona, msg, snap)
				if err != nil {
					return err
				}
				if name == "" {
					p, _ := a.registry.Get(pair.persona)
					name = p.DisplayName
				}
				fmt.Fprintf(out, "> %s\n%s: %s\n", msg, name, env.Response)
				if env.TierUpgraded {
					fmt.Fprintf(out, "  ⬆ %s → %s: %s\n", env.PreviousTier.Name, env.Tier.Name, env.TierUpMessage)
				}
				if env.Upsell != nil {
					fmt.Fprintf(out, "  🎁 %s (%s, $%.2f)\n", env.Upsell.Message, env.Upsell.Type, env.Upsell.Price)
				}
			}

			st, err := eng.Snapshot(cmd.Context(), pair.user, pair.persona)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nscore %.1f · %s\n", st.Bond.BondScore, st.Tier.Name)
			return nil
		},
	}
	pair.register(cmd)
	cmd.Flags().IntVar(&snap.TimeSpentSeconds, "time-spent", 0, "total seconds spent with the persona")
	cmd.Flags().IntVar(&snap.ReturnVisits, "visits", 0, "return visits")
	cmd.Flags().IntVar(&snap.DaysActive, "days", 0, "distinct active days")
	cmd.Flags().BoolVar(&snap.HasPurchased, "purchased", false, "the user has bought something")
	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return lines, nil
}

func newShowCmd(a *app) *cobra.Command {
	var pair pairFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored bond and memory of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.open()
			if err != nil {
				return err
			}
			key := memory.Key{UserID: pair.user, PersonaID: pair.persona}
			rec, err := a.store.Load(cmd.Context(), key)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("nothing stored for %s", key)
			}

			st, err := eng.Snapshot(cmd.Context(), pair.user, pair.persona)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	pair.register(cmd)
	return cmd
}

func printStatus(w io.Writer, st *engine.Status) {
	p := st.Profile
	b := st.Bond

	fmt.Fprintf(w, "%s\n%s\n\n", st.PersonaName, st.Card)
	fmt.Fprintf(w, "score      %.1f (%s, %.0f%% to next)\n", b.BondScore, st.Tier.Name, st.Progress)
	fmt.Fprintf(w, "messages   %d\n", p.MessageCount)
	fmt.Fprintf(w, "activity   %s over %d visits on %d days\n",
		time.Duration(b.TimeSpentSeconds)*time.Second, b.ReturnVisits+1, b.DaysActive)
	if b.DecayPenalty > 0 {
		fmt.Fprintf(w, "decay      -%.1f\n", b.DecayPenalty)
	}

	if len(p.PersonalDetails.Fields) > 0 || len(p.PersonalDetails.Interests) > 0 {
		fmt.Fprintln(w, "\ndetails")
		fields := make([]string, 0, len(p.PersonalDetails.Fields))
		for k := range p.PersonalDetails.Fields {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, k := range fields {
			fmt.Fprintf(w, "  %-10s %s\n", k, p.PersonalDetails.Fields[k])
		}
		if len(p.PersonalDetails.Interests) > 0 {
			fmt.Fprintf(w, "  %-10s %s\n", "interests", strings.Join(p.PersonalDetails.Interests, ", "))
		}
	}

	if len(p.Milestones.Reached) > 0 {
		fmt.Fprintln(w, "\nmilestones")
		for _, kind := range memory.MilestoneKinds {
			if ms, ok := p.Milestones.Reached[kind]; ok {
				fmt.Fprintf(w, "  %-22s %s\n", kind, time.UnixMilli(ms).UTC().Format(time.DateTime))
			}
		}
	}

	if len(p.EmotionalHistory.Moments) > 0 {
		fmt.Fprintln(w, "\nmoments")
		for _, m := range p.EmotionalHistory.Moments {
			fmt.Fprintf(w, "  [%s x%d] %s\n", m.Emotion, m.Importance, m.Text)
		}
	}

	if len(p.BehavioralInsights.SpendingPatterns) > 0 {
		fmt.Fprintln(w, "\nspending")
		kinds := make([]string, 0, len(p.BehavioralInsights.SpendingPatterns))
		for k := range p.BehavioralInsights.SpendingPatterns {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-10s $%.2f\n", k, p.BehavioralInsights.SpendingPatterns[k])
		}
	}
}

func newPairsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pairs",
		Short: "List every stored user and persona pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(); err != nil {
				return err
			}
			keys, err := a.store.Pairs(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", k.UserID, k.PersonaID)
			}
			return nil
		},
	}
}

func newPurchaseCmd(a *app) *cobra.Command {
	var (
		pair   pairFlags
		kind   string
		amount float64
	)
	cmd := &cobra.Command{
		Use:   "purchase",
		Short: "Record a purchase for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.open()
			if err != nil {
				return err
			}
			st, err := eng.RecordPurchase(cmd.Context(), pair.user, pair.persona, kind, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s for $%.2f\nscore %.1f · %s\n",
				kind, amount, st.Bond.BondScore, st.Tier.Name)
			return nil
		},
	}
	pair.register(cmd)
	cmd.Flags().StringVar(&kind, "kind", "gift", "what was bought")
	cmd.Flags().Float64Var(&amount, "amount", 0, "price paid")
	return cmd
}

func newDecayCmd(a *app) *cobra.Command {
	var (
		at    string
		after time.Duration
	)
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run the inactivity decay sweep once",
		Long: `Charges inactivity to every stored pair as of --at (default now),
shifted by --after. Running it twice for the same instant charges nothing more.`,
		Example: `  bondctl decay
  bondctl decay --after 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at, after)
			if err != nil {
				return err
			}
			eng, err := a.open()
			if err != nil {
				return err
			}
			n, err := eng.ApplyDecay(cmd.Context(), now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "decayed %d pairs\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "sweep time in RFC 3339")
	cmd.Flags().DurationVar(&after, "after", 0, "offset added to the sweep time")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-personas [dir]",
		Short: "Load persona files and report problems",
		Long:  "Validates every persona file in dir (or --personas, or the built-in set).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.personaDir = args[0]
			}
			set, err := a.loadPersonas()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range set.IDs() {
				p, _ := set.Get(id)
				fmt.Fprintf(out, "%-10s %-10s %d tiers\n", id, p.DisplayName, len(p.Resolver().Table().Tiers()))
			}
			fmt.Fprintf(out, "ok: %d personas\n", len(set.IDs()))
			return nil
		},
	}
}
