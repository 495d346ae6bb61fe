package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/forestshield/core/internal/domain"
)

func init() {
	regionCmd.AddCommand(regionCreateCmd, regionListCmd, regionShowCmd, regionPauseCmd, regionResumeCmd, regionRmCmd)
	regionCreateCmd.Flags().StringVar(&regionName, "name", "", "display name (required)")
	regionCreateCmd.Flags().Float64Var(&regionLat, "lat", 0, "center latitude (required)")
	regionCreateCmd.Flags().Float64Var(&regionLon, "lon", 0, "center longitude (required)")
	regionCreateCmd.Flags().Float64Var(&regionRadius, "radius-km", 10, "monitoring radius in kilometers")
	regionCreateCmd.Flags().Float64Var(&regionCloudCover, "cloud-cover", 20, "maximum acceptable cloud cover percentage")
	regionCreateCmd.Flags().StringVar(&regionTileID, "tile-id", "", "Model Lifecycle Manager tile identifier (required)")
	regionCreateCmd.Flags().StringVar(&regionTag, "region-tag", "", "Model Lifecycle Manager biome/region tag (required)")
	_ = regionCreateCmd.MarkFlagRequired("name")
	_ = regionCreateCmd.MarkFlagRequired("tile-id")
	_ = regionCreateCmd.MarkFlagRequired("region-tag")
	rootCmd.AddCommand(regionCmd)
}

var (
	regionName       string
	regionLat        float64
	regionLon        float64
	regionRadius     float64
	regionCloudCover float64
	regionTileID     string
	regionTag        string
)

var regionCmd = &cobra.Command{
	Use:   "region",
	Short: "Manage monitored regions",
}

var regionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Declare a new region to monitor",
	RunE:  runRegionCreate,
}

func runRegionCreate(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	r := domain.Region{
		RegionID:            uuid.NewString(),
		Name:                regionName,
		Center:              domain.Center{Latitude: regionLat, Longitude: regionLon},
		RadiusKM:            regionRadius,
		CloudCoverThreshold: regionCloudCover,
		Status:              domain.RegionActive,
		TileID:              regionTileID,
		RegionTag:           regionTag,
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := app.Store.PutRegion(cmd.Context(), r); err != nil {
		return err
	}
	fmt.Println(r.RegionID)
	return nil
}

var regionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List monitored regions",
	RunE:    runRegionList,
}

func runRegionList(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	regions, err := app.Store.ListRegions(cmd.Context())
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		fmt.Println("No regions declared. Run 'forestshield region create' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REGION_ID\tNAME\tSTATUS\tLAST_DEFORESTATION_PCT\tLAST_ANALYSIS_AT")
	for _, r := range regions {
		lastAnalysis := "never"
		if r.LastAnalysisAt != nil {
			lastAnalysis = r.LastAnalysisAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f%%\t%s\n", r.RegionID, r.Name, r.Status, r.LastDeforestationPercentage, lastAnalysis)
	}
	return w.Flush()
}

var regionShowCmd = &cobra.Command{
	Use:   "show REGION_ID",
	Short: "Show a region's full record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegionShow,
}

func runRegionShow(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	r, err := app.Store.GetRegion(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("region_id:   %s\n", r.RegionID)
	fmt.Printf("name:        %s\n", r.Name)
	fmt.Printf("center:      %.6f, %.6f\n", r.Center.Latitude, r.Center.Longitude)
	fmt.Printf("radius_km:   %.1f\n", r.RadiusKM)
	fmt.Printf("cloud_cover: %.1f%%\n", r.CloudCoverThreshold)
	fmt.Printf("status:      %s\n", r.Status)
	fmt.Printf("tile_id:     %s\n", r.TileID)
	fmt.Printf("region_tag:  %s\n", r.RegionTag)
	fmt.Printf("last_pct:    %.2f%%\n", r.LastDeforestationPercentage)
	return nil
}

var regionPauseCmd = &cobra.Command{
	Use:   "pause REGION_ID",
	Short: "Mark a region PAUSED",
	Args:  cobra.ExactArgs(1),
	RunE:  regionSetStatus(domain.RegionPaused),
}

var regionResumeCmd = &cobra.Command{
	Use:   "resume REGION_ID",
	Short: "Mark a region ACTIVE",
	Args:  cobra.ExactArgs(1),
	RunE:  regionSetStatus(domain.RegionActive),
}

func regionSetStatus(status domain.RegionStatus) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		_, err = app.Store.UpdateRegion(cmd.Context(), args[0], func(r *domain.Region) error {
			r.Status = status
			return nil
		})
		return err
	}
}

var regionRmCmd = &cobra.Command{
	Use:   "rm REGION_ID",
	Short: "Delete a region",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegionRm,
}

func runRegionRm(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Store.DeleteRegion(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}
