package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/driftwood-io/driftwood/internal/autoscaler"
)

// CloudWatchMetrics reads per-instance CPU utilization and averages it
// across group members. It satisfies the controller's metric source.
type CloudWatchMetrics struct {
	client *cloudwatch.Client
	window time.Duration
}

func NewCloudWatchMetrics(p *Provider, window time.Duration) *CloudWatchMetrics {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &CloudWatchMetrics{client: p.cw, window: window}
}

func (m *CloudWatchMetrics) Observe(ctx context.Context, group string, memberIDs []string) (float64, error) {
	if len(memberIDs) == 0 {
		return 0, &autoscaler.MetricUnavailableError{Group: group}
	}

	end := time.Now()
	start := end.Add(-m.window)

	var sum float64
	var samples int
	for _, id := range memberIDs {
		out, err := m.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/EC2"),
			MetricName: aws.String("CPUUtilization"),
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String("InstanceId"), Value: aws.String(id)},
			},
			StartTime:  aws.Time(start),
			EndTime:    aws.Time(end),
			Period:     aws.Int32(int32(m.window.Seconds())),
			Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
		})
		if err != nil {
			return 0, &autoscaler.MetricUnavailableError{Group: group, Err: err}
		}
		for _, dp := range out.Datapoints {
			sum += aws.ToFloat64(dp.Average)
			samples++
		}
	}

	// Instances too new to have reported yet produce no datapoints. If
	// nobody has reported, the signal is absent, not zero.
	if samples == 0 {
		return 0, &autoscaler.MetricUnavailableError{Group: group}
	}
	return sum / float64(samples), nil
}
