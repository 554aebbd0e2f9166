package pkg

import (
	"github.com/rs/zerolog/log"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/io"
)

func printDataErrors(errors []io.DataError) {
	for _, err := range errors {
		log.Error().Msgf("Error parsing data at line %d: %s\n", err.Line, err.Error)
	}
}
