package configuration

import (
	"github.com/vineyard-genomics/harvester/internal/common/config"
)

func (c HarvesterConfiguration) Validate() error {
	return config.ValidateStruct(c)
}
