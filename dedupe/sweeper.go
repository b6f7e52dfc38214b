package dedupe

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// sweeper periodically removes expired claims from a local store
type sweeper struct {
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func startSweeper(store string, interval time.Duration, sweep func() int) *sweeper {
	sw := &sweeper{done: make(chan struct{})}
	if interval <= 0 {
		return sw
	}

	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-sw.done:
				return
			case <-ticker.C:
				if n := sweep(); n > 0 {
					log.Debug().Str("store", store).Int("removed", n).Msg("Swept expired dedupe claims")
				}
			}
		}
	}()
	return sw
}

// stop ends the sweep loop and waits for an in-flight sweep
func (sw *sweeper) stop() {
	sw.once.Do(func() { close(sw.done) })
	sw.wg.Wait()
}
