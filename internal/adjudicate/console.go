package adjudicate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mall-resolver/internal/match"
)

// Console is an interactive reviewer reading commands from in and writing
// prompts to out
type Console struct {
	in       *bufio.Reader
	out      io.Writer
	reviewer string
}

// NewConsole creates a console reviewer
func NewConsole(in io.Reader, out io.Writer, reviewer string) *Console {
	if reviewer == "" {
		reviewer = "system_user"
	}
	return &Console{in: bufio.NewReader(in), out: out, reviewer: reviewer}
}

// Adjudicate shows one queued store and reads the reviewer's decision:
// a candidate number accepts it, r rejects all, "s <name>" searches again
// under another name, "n [name]" creates a new mall and q ends the session
func (c *Console) Adjudicate(ctx context.Context, req match.Request) (match.Decision, error) {
	c.showItem(req)

	for {
		if err := ctx.Err(); err != nil {
			return match.Decision{}, err
		}

		c.showOptions(req)
		line, err := c.in.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return match.Decision{}, fmt.Errorf("read decision: %w", err)
			}
			// Input closed: treat as quit unless a last command came with it
			if strings.TrimSpace(line) == "" {
				return match.Decision{}, match.ErrStopAdjudication
			}
		}

		dec, ok, err := c.parse(req, strings.TrimSpace(line))
		if err != nil {
			return match.Decision{}, err
		}
		if ok {
			return dec, nil
		}
	}
}

func (c *Console) showItem(req match.Request) {
	s := req.Store
	fmt.Fprintf(c.out, "=== Store %s ===\n", s.ID)
	fmt.Fprintf(c.out, "Name: %s\n", s.Name)
	if s.Brand != "" {
		fmt.Fprintf(c.out, "Brand: %s\n", s.Brand)
	}
	if s.Address != "" {
		fmt.Fprintf(c.out, "Address: %s\n", s.Address)
	}
	if s.Location != nil {
		fmt.Fprintf(c.out, "Location: %s\n", s.Location)
	}
	fmt.Fprintf(c.out, "Queue: %s (%s)\n\n", req.Tier, req.Reason)

	if len(req.Candidates) == 0 {
		fmt.Fprintln(c.out, "No candidates within range")
		return
	}

	fmt.Fprintf(c.out, "Found %d candidate malls:\n\n", len(req.Candidates))
	for i, cand := range req.Candidates {
		fmt.Fprintf(c.out, "%d. %s (%s)\n", i+1, cand.MallName, cand.MallID)
		fmt.Fprintf(c.out, "   Distance: %.0fm, Similarity: %.1f, Score: %.3f, Tier: %s\n",
			cand.DistanceKm*1000, cand.NameSimilarity, cand.Score, cand.Tier)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) showOptions(req match.Request) {
	fmt.Fprintln(c.out, "Options:")
	if len(req.Candidates) > 0 {
		fmt.Fprintf(c.out, "  1-%d    - Accept candidate\n", len(req.Candidates))
	}
	fmt.Fprintln(c.out, "  r      - Reject all candidates")
	fmt.Fprintln(c.out, "  s NAME - Search again using NAME")
	fmt.Fprintln(c.out, "  n NAME - Create a new mall (NAME optional)")
	fmt.Fprintln(c.out, "  q      - Quit review session")
	fmt.Fprint(c.out, "Your decision: ")
}

func (c *Console) parse(req match.Request, input string) (match.Decision, bool, error) {
	source := "console:" + c.reviewer
	command, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(command) {
	case "q":
		return match.Decision{}, false, match.ErrStopAdjudication
	case "r":
		fmt.Fprint(c.out, "Optional notes for rejection: ")
		notes, _ := c.in.ReadString('\n')
		return match.Decision{
			Verdict:    match.VerdictNone,
			Confidence: match.TierHigh,
			Reason:     strings.TrimSpace(notes),
			Source:     source,
		}, true, nil
	case "s":
		if arg == "" {
			fmt.Fprintln(c.out, "Search needs a name, e.g. \"s Starlight Plaza\"")
			return match.Decision{}, false, nil
		}
		return match.Decision{Verdict: match.VerdictResearch, Name: arg, Confidence: match.TierHigh, Source: source}, true, nil
	case "n":
		return match.Decision{Verdict: match.VerdictNewVenue, Name: arg, Confidence: match.TierHigh, Source: source}, true, nil
	}

	num, err := strconv.Atoi(input)
	if err != nil || num < 1 || num > len(req.Candidates) {
		fmt.Fprintf(c.out, "Invalid choice '%s'. Please try again.\n", input)
		return match.Decision{}, false, nil
	}

	selected := req.Candidates[num-1]
	fmt.Fprintf(c.out, "Accepted %s (%s)\n", selected.MallName, selected.MallID)
	return match.Decision{
		Verdict:    match.VerdictAccept,
		MallID:     selected.MallID,
		Confidence: match.TierHigh,
		Reason:     "manual_review",
		Source:     source,
	}, true, nil
}
