package mem

// Pg2pmap reinterprets a generic page as a page-table page. Exported so
// that vmem — which performs the four-level walk spec.md §4.2 describes —
// can turn the result of Physmem.Dmap into a table it can index, the same
// cast mem.go already performs internally via its unexported pg2pmap.
func Pg2pmap(pg *Pg_t) *Pmap_t {
	return pg2pmap(pg)
}
