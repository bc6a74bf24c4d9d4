package anthropic

// BuildCachedSystemBlocks constructs a system block with a cache breakpoint.
// The optimize loop sends the same instructions on every iteration, so later
// rewrites read the prefix from cache. An empty ttl uses the API default (5m).
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
