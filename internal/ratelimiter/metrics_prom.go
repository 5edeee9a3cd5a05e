package ratelimiter

import "fmt"

// writeHelp and writeCounterLine emit raw Prometheus text exposition
// lines by hand instead of pulling in a metrics client library.
func writeHelp(w interface{ Write([]byte) (int, error) }, name, typ string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, name, name, typ)
}

func writeCounterLine(w interface{ Write([]byte) (int, error) }, name string, k counterKey, v uint64) {
	fmt.Fprintf(w, "%s{service=%q,reason=%q} %d\n", name, k.service, string(k.reason), v)
}
