// Package netselect builds the per-GPU-ordered, de-duplicated candidate NIC
// list that SearchRecNet and SearchRecGpu's back-to-NIC step iterate over.
package netselect

import "github.com/ccltopo/graphsearch/pkg/topo"

// SelectNets returns, in order of descending preference, the NIC indices
// reachable at path-type typeInter or better. gpu == -1 builds a list
// suitable for all GPUs (search start); otherwise it builds the list for
// getting a single GPU back to a NIC.
//
// For each path-type class nearest-to-farthest, and for each relevant GPU,
// the GPU's local NICs at that class are gathered and rotated by
// gpu.Dev % localCount so that co-located GPUs prefer different NICs when
// multiple independent communicators run on the same host; NICs already
// appended by a closer GPU are not appended again.
func SelectNets(sys *topo.System, typeInter topo.PathType, gpu int) []int {
	nNics := sys.NumNICs()
	if nNics == 0 {
		return nil
	}
	seen := make(map[int]bool, nNics)
	nets := make([]int, 0, nNics)

	for t := topo.PathLOC; t <= typeInter; t++ {
		for g := 0; g < sys.NumGPUs(); g++ {
			if gpu != -1 && gpu != g {
				continue
			}
			local := localNicsAtClass(sys, g, t)
			if len(local) == 0 {
				continue
			}
			rotate(local, sys.GPU(g).Dev%len(local))
			for _, n := range local {
				if !seen[n] {
					seen[n] = true
					nets = append(nets, n)
				}
			}
		}
	}
	return nets
}

func localNicsAtClass(sys *topo.System, gpuIdx int, t topo.PathType) []int {
	var out []int
	for n := 0; n < sys.NumNICs(); n++ {
		p := sys.PathTo(gpuIdx, topo.NIC, n)
		if p != nil && p.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// rotate left-rotates s in place by k positions.
func rotate(s []int, k int) {
	n := len(s)
	if n == 0 {
		return
	}
	k %= n
	if k == 0 {
		return
	}
	rotated := make([]int, n)
	for i, v := range s {
		rotated[(i-k+n)%n] = v
	}
	copy(s, rotated)
}
