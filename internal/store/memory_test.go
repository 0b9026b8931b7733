package store_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/gyaneshwarpardhi/karmachain/internal/store"
	"github.com/gyaneshwarpardhi/karmachain/internal/store/storetest"
)

func TestMemoryContract(t *testing.T) {
	suite.Run(t, &storetest.ContractSuite{New: func() store.Store { return store.NewMemory() }})
}

func TestRetryingMemoryContract(t *testing.T) {
	suite.Run(t, &storetest.ContractSuite{New: func() store.Store {
		return store.WithRetry(store.NewMemory(), store.RetryOptions{MaxAttempts: 3})
	}})
}

func TestLostAckMemoryContract(t *testing.T) {
	suite.Run(t, &storetest.ContractSuite{New: func() store.Store {
		return store.WithRetry(storetest.NewLostAck(store.NewMemory()), fastRetry(3))
	}})
}
