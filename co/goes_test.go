package co

import "testing"

func TestGoes(t *testing.T) {
	var g Goes
	g.Go(func() {})
	g.Go(func() {})
	g.Wait()

	<-g.Done()
}
