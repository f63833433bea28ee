package sync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ShardedMutexSuite struct {
	suite.Suite
}

func TestShardedMutexSuite(t *testing.T) {
	suite.Run(t, new(ShardedMutexSuite))
}

func (s *ShardedMutexSuite) TestSerializesSameKey() {
	m := NewShardedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Do("statuslist:issuer-1:revocation", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	s.Equal(100, counter)
}

func (s *ShardedMutexSuite) TestEmptyKeyDefaultsToShardZero() {
	m := NewShardedMutex()
	s.Equal(0, m.shardFor(""))
}

func (s *ShardedMutexSuite) TestStableShardSelection() {
	m := NewShardedMutex()
	s.Equal(m.shardFor("status_abc"), m.shardFor("status_abc"))
}
