package params

type BuildConfig struct {
	// OutDir receives every build output.
	OutDir string
	// Workers bounds the indexing and aggregation pools.
	Workers int
	// GZipCompressionLevel applies to the NDJSON outputs.
	GZipCompressionLevel int
	// SkipStore omits the bbolt index, leaving only flat files.
	SkipStore bool
}

func DefaultBuildConfig() *BuildConfig {
	return &BuildConfig{
		OutDir:               DefaultCacheDir(),
		Workers:              DefaultWorkers,
		GZipCompressionLevel: DefaultGZipCompressionLevel,
	}
}
