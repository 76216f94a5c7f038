package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/luthierworks/luthier/internal/models"
	"github.com/spf13/cobra"
)

var testimonialsCmd = &cobra.Command{
	Use:     "testimonials",
	Aliases: []string{"t"},
	Short:   "Inspect stored testimonials",
}

var testimonialsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List testimonials in display order",
	Args:    cobra.NoArgs,
	RunE:    runTestimonialsList,
}

var testimonialsFlags struct {
	Featured bool
	Service  string
	Limit    int
}

func init() {
	testimonialsListCmd.Flags().BoolVar(&testimonialsFlags.Featured, "featured", false, "Only featured testimonials")
	testimonialsListCmd.Flags().StringVar(&testimonialsFlags.Service, "service", "", "Only testimonials for this service id")
	testimonialsListCmd.Flags().IntVar(&testimonialsFlags.Limit, "limit", 0, "Maximum number of rows (0 = all)")

	testimonialsCmd.AddCommand(testimonialsListCmd)
	RootCmd.AddCommand(testimonialsCmd)
}

func runTestimonialsList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.store.ListTestimonials(cmd.Context(), models.TestimonialFilter{
		FeaturedOnly: testimonialsFlags.Featured,
		ServiceID:    testimonialsFlags.Service,
		Limit:        testimonialsFlags.Limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		if list == nil {
			list = []*models.Testimonial{}
		}
		return writeJSON(out, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No testimonials.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLIENT\tRATING\tFEATURED\tSOURCE\tTEXT")
	for _, t := range list {
		featured := ""
		if t.IsFeatured {
			featured = "yes"
		}
		source := "manual"
		if t.IsImported() {
			source = "google"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.ClientName, strings.Repeat("★", t.Rating), featured, source, truncate(t.Text, 48))
	}
	return tw.Flush()
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
