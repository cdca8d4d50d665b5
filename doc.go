// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

/*
The cleaner package contains tools and functions for cleaning up
scanned page images, removing background haze, ink specks and stray
marks while keeping the text intact, as a preparation step before
OCR or printing.

Introduction

The core algorithm lives in the despeck package: it splits a page
into background and connected clusters of ink ("graphemes"), then
removes the clusters which look like noise, judged by their size,
their position relative to the page margins, and how far they sit
from anything big enough to be real content. Everything else in this
repository is plumbing to run that algorithm over single pages, whole
books, or a queue of books shared between machines.

The simplest tools work entirely locally:

  cleanpage page.png cleaned.png
  cleanbook -v MyBook/ MyBookCleaned/

cleanbook processes the pages of a book concurrently, as each page is
independent, and can write a report graph of how much was removed
from each page, which is a quick way to spot pages that need manual
attention. The cleangui tool provides an interactive preview where
the thresholds can be adjusted with sliders, individual graphemes can
be forced to stay or go by tapping them, and a whole set of opened
pages can be exported with the chosen settings.

Cleaning in the cloud

For large collections the same queue based design as a distributed
OCR pipeline is used. Books are uploaded to an S3 bucket and their
names are added to an SQS queue with booktoclean. Any machine running
cleanpipeline will then pick up the book, add each of its pages to
the page queue, clean pages as they appear there, and once every page
is done generate the report graph and a PDF of the cleaned pages.
Results are downloaded with getcleanbook.

When a job is taken from a queue it is hidden from other processes,
and a "heartbeat" keeps it hidden while it is worked on. If the
process dies the heartbeat stops and the job reappears for another
machine to pick up, so lost servers only cost time, never work. A
failure limited to a single page, such as a corrupt image, is logged
and skipped without holding up the rest of the book.

Queue names are defined in cloudsettings.go; set these, and your
~/.aws/credentials, appropriately for your own site. All of the tools
describe their usage with the '-h' flag, and take '-c local' to run
against a directory on the local machine instead of the cloud, which
is also how the tests work.
*/
package cleaner
