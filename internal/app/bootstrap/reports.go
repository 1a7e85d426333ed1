package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	"github.com/wolfman30/lumen-clinic/internal/finance"
)

// BuildReportStore returns the S3 settlement report store, or nil when
// REPORTS_BUCKET is unset.
func BuildReportStore(cfg *appconfig.Config, awsCfg aws.Config) *finance.ReportStore {
	if cfg == nil || strings.TrimSpace(cfg.ReportsBucket) == "" {
		return nil
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	})
	return finance.NewReportStore(client, s3.NewPresignClient(client), cfg.ReportsBucket, cfg.ClinicID, cfg.ReportURLTTL)
}
