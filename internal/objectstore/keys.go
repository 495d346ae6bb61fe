package objectstore

import "fmt"

// Key namespaces are bit-exact per spec so downstream tooling can
// compute them independently of this implementation.

func PixelDataKey(year, month, day int, runID string) string {
	return fmt.Sprintf("geospatial-data/year=%d/month=%02d/day=%02d/%s.json", year, month, day, runID)
}

func ModelArtifactKey(tileID, regionTag, version string) string {
	return fmt.Sprintf("models/%s/%s/%s/model.bin", tileID, regionTag, version)
}

func ModelMetadataKey(tileID, regionTag, version string) string {
	return fmt.Sprintf("models/%s/%s/%s/metadata.json", tileID, regionTag, version)
}

func PerformanceHistoryKey(tileID string) string {
	return fmt.Sprintf("model-performance/%s/history.json", tileID)
}

func VisualizationKey(regionID, tileID, timestamp, chartType string) string {
	return fmt.Sprintf("visualizations/%s/%s/%s/%s.png", regionID, tileID, timestamp, chartType)
}

func ReportKey(timestamp, riskLevel string) string {
	return fmt.Sprintf("reports/%s/report_%s_%s.pdf", timestamp, riskLevel, timestamp)
}
