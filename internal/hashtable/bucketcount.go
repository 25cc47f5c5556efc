package hashtable

// BucketCount returns B, the prime bucket count, for a given hashJoinThreshold
// expressed in MB — the exact table spec §6 requires for cross-instance
// interoperability. Every peer must compute the identical B for a given T.
func BucketCount(memoryLimitMB int) int {
	switch {
	case memoryLimitMB <= 128:
		return 1048573
	case memoryLimitMB <= 256:
		return 2097143
	case memoryLimitMB <= 512:
		return 4194301
	case memoryLimitMB <= 1024:
		return 8388617
	case memoryLimitMB <= 2048:
		return 16777213
	case memoryLimitMB <= 4096:
		return 33554467
	case memoryLimitMB <= 8192:
		return 67108859
	case memoryLimitMB <= 16384:
		return 134217757
	case memoryLimitMB <= 32768:
		return 268435459
	case memoryLimitMB <= 65536:
		return 536870909
	case memoryLimitMB <= 131072:
		return 1073741827
	default:
		return 2147483647
	}
}
