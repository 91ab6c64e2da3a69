package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hashsweep/config"
	"hashsweep/logger"
	"hashsweep/version"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type otelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
}

type otelPolicy struct {
	includePaths bool
}

func newOtelLogger(cfg *config.Config) (*otelLogger, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.OtelServiceName
	if serviceName == "" {
		serviceName = "hashsweep"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version.Version),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &otelLogger{
		provider: provider,
		logger:   provider.Logger("hashsweep"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
		policy:   otelPolicy{includePaths: cfg.OtelExportPaths},
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *otelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

func (o *otelLogger) Emit(recordType string, payload any) {
	if o == nil || o.logger == nil {
		return
	}
	data := sanitizePayload(recordType, payloadToMap(payload), o.policy)

	var record otelLog.Record
	now := time.Now()
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("hashsweep.record")
	record.SetSeverity(severity(recordType))
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", SchemaVersion),
	)
	if attrs := semanticAttributes(recordType, data, o.policy); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}
	if data != nil {
		record.SetBody(toLogValue(data))
	}

	o.logger.Emit(context.Background(), record)
}

func (o *otelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

func severity(recordType string) otelLog.Severity {
	switch recordType {
	case RecordDetection:
		return otelLog.SeverityWarn
	case RecordFlagged, RecordSimilar, RecordUnreadable:
		return otelLog.SeverityInfo2
	default:
		return otelLog.SeverityInfo
	}
}

// sanitizePayload strips paths unless path export is enabled. The input map
// is not modified.
func sanitizePayload(recordType string, data map[string]any, policy otelPolicy) map[string]any {
	if data == nil || policy.includePaths {
		return data
	}
	sanitized := cloneMap(data)
	switch recordType {
	case RecordDetection, RecordFlagged, RecordSimilar, RecordUnreadable:
		path := getStringField(sanitized, "path")
		delete(sanitized, "path")
		if path != "" {
			sanitized["name"] = filepath.Base(path)
		}
		// Error strings embed the path.
		if _, ok := sanitized["error"]; ok {
			sanitized["error"] = "unreadable"
		}
	case RecordScanStart, RecordSummary:
		delete(sanitized, "root")
		if roots, ok := valueCount(sanitized["roots"]); ok {
			sanitized["roots_count"] = roots
		}
		delete(sanitized, "roots")
	}
	return sanitized
}

func valueCount(value any) (int, bool) {
	switch v := value.(type) {
	case []any:
		return len(v), true
	case []string:
		return len(v), true
	default:
		return 0, false
	}
}

func cloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func toLogValue(value any) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case []byte:
		return otelLog.BytesValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		return otelLog.Float64Value(v)
	case map[string]any:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case map[string]string:
		keys := sortedKeys(v)
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for _, k := range keys {
			kvs = append(kvs, otelLog.String(k, v[k]))
		}
		return otelLog.MapValue(kvs...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	case []any:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.Value{}
	}
}

// toLogKeyValues converts a map in sorted key order so exported records are
// stable.
func toLogKeyValues(values map[string]any) []otelLog.KeyValue {
	keys := sortedKeys(values)
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for _, key := range keys {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(values[key])})
	}
	return kvs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func semanticAttributes(recordType string, data map[string]any, policy otelPolicy) []otelLog.KeyValue {
	if len(data) == 0 {
		return nil
	}
	switch recordType {
	case RecordDetection, RecordFlagged, RecordSimilar, RecordUnreadable:
		return fileSemanticAttributes(data, policy)
	case RecordScanStart:
		return startSemanticAttributes(data)
	case RecordSummary:
		return summarySemanticAttributes(data)
	default:
		return nil
	}
}

func fileSemanticAttributes(data map[string]any, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	path := getStringField(data, "path")
	name := getStringField(data, "name")
	if name == "" && path != "" {
		name = filepath.Base(path)
	}
	if policy.includePaths && path != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), path))
		kvs = append(kvs, otelLog.String(string(semconv.FileDirectoryKey), filepath.Dir(path)))
	}
	if name != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FileNameKey), name))
		if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
		}
	}
	if size, ok := getInt64Field(data, "size"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
	}

	algorithm := getStringField(data, "algorithm")
	kvs = appendStringAttr(kvs, "hashsweep.file.algorithm", algorithm)
	if digest := getStringField(data, "digest"); digest != "" && algorithm != "" {
		kvs = append(kvs, otelLog.String("hashsweep.file.hash."+algorithm, digest))
	}
	kvs = appendStringAttr(kvs, "hashsweep.signature", getStringField(data, "signature"))
	kvs = appendStringAttr(kvs, "hashsweep.file.type", getStringField(data, "file_type"))
	kvs = appendStringAttr(kvs, "hashsweep.file.mime_type", getStringField(data, "mime_type"))
	kvs = appendStringAttr(kvs, "hashsweep.file.id", getStringField(data, "file_id"))
	kvs = appendStringAttr(kvs, "hashsweep.error", getStringField(data, "error"))

	if similar, ok := data["similar"].(map[string]any); ok {
		kvs = appendStringAttr(kvs, "hashsweep.similar.name", getStringField(similar, "name"))
		kvs = appendStringAttr(kvs, "hashsweep.similar.algorithm", getStringField(similar, "algorithm"))
		if d, ok := getInt64Field(similar, "distance"); ok {
			kvs = append(kvs, otelLog.Int64("hashsweep.similar.distance", d))
		}
	}
	if times, ok := data["times"].(map[string]any); ok {
		kvs = appendStringAttr(kvs, "hashsweep.file.mod_time", getStringField(times, "mod_time"))
		kvs = appendStringAttr(kvs, "hashsweep.file.change_time", getStringField(times, "change_time"))
		kvs = appendStringAttr(kvs, "hashsweep.file.birth_time", getStringField(times, "birth_time"))
	}
	return kvs
}

func startSemanticAttributes(data map[string]any) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	kvs = appendStringAttr(kvs, "hashsweep.version", getStringField(data, "version"))
	kvs = appendStringAttr(kvs, "hashsweep.algorithm", getStringField(data, "algorithm"))
	if n, ok := getInt64Field(data, "signatures"); ok {
		kvs = append(kvs, otelLog.Int64("hashsweep.signatures", n))
	}
	if host, ok := data["host"].(map[string]any); ok {
		kvs = appendStringAttr(kvs, string(semconv.HostNameKey), getStringField(host, "hostname"))
		kvs = appendStringAttr(kvs, string(semconv.HostArchKey), getStringField(host, "arch"))
		kvs = appendStringAttr(kvs, string(semconv.OSTypeKey), getStringField(host, "os"))
		kvs = appendStringAttr(kvs, string(semconv.OSVersionKey), getStringField(host, "platform_version"))
		kvs = appendStringAttr(kvs, string(semconv.OSDescriptionKey), getStringField(host, "platform"))
	}
	return kvs
}

func summarySemanticAttributes(data map[string]any) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	kvs = appendStringAttr(kvs, "hashsweep.summary.start_time", getStringField(data, "start_time"))
	kvs = appendStringAttr(kvs, "hashsweep.summary.end_time", getStringField(data, "end_time"))
	for _, key := range []string{"files_seen", "files_hashed", "unreadable", "matched", "flagged", "similar", "bytes_hashed", "total_files"} {
		if n, ok := getInt64Field(data, key); ok {
			kvs = append(kvs, otelLog.Int64("hashsweep.summary."+key, n))
		}
	}
	return kvs
}

// payloadToMap round-trips typed payloads through JSON so attributes follow
// the same field names as the report.
func payloadToMap(payload any) map[string]any {
	switch v := payload.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil
		}
		return decoded
	}
}

func getStringField(values map[string]any, key string) string {
	value, ok := values[key]
	if !ok || value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprint(value)
}

func getInt64Field(values map[string]any, key string) (int64, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}
