package cli

var (
	GetIndexConfig = getIndexConfig
	ParseFilter    = parseFilter
	PrintResult    = printResult
)
